package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/bandit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorderSpy struct {
	decisions int
	feedback  int
	dropped   []string
}

func (r *recorderSpy) ObserveDecision(string, api.Algorithm, api.Action) { r.decisions++ }
func (r *recorderSpy) ObserveFeedback(string, api.Algorithm, float64)    { r.feedback++ }
func (r *recorderSpy) FeedbackDropped(reason string)                     { r.dropped = append(r.dropped, reason) }

func smallConfig() Config {
	return Config{
		ContextDimension: 4,
		NumActions:       2,
		Domains:          []string{"d1"},
		DefaultAlgorithm: api.AlgorithmDoublyRobust,
		Seed:             11,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return o
}

func TestNew_Defaults(t *testing.T) {
	o, err := New(Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDomains, o.Domains())
	assert.Equal(t, api.AlgorithmDoublyRobust, o.DefaultAlgorithm())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{Domains: []string{}}, nil)
	assert.ErrorIs(t, err, ErrNoDomains)

	_, err = New(Config{DefaultAlgorithm: "epsilon_greedy"}, nil)
	assert.ErrorIs(t, err, api.ErrUnknownAlgorithm)
}

func TestNew_DeduplicatesDomains(t *testing.T) {
	o := newTestOrchestrator(t, Config{Domains: []string{"a", "b", "a"}})
	assert.Equal(t, []string{"a", "b"}, o.Domains())
}

func TestDecisionFeedbackRoundTrip(t *testing.T) {
	spy := &recorderSpy{}
	o := newTestOrchestrator(t, smallConfig(), WithRecorder(spy))
	ctx := context.Background()

	c := api.NewContext("u1", "d1", map[string]float64{"complexity": 0.9})
	action, err := o.MakeDecision(ctx, c, "")
	require.NoError(t, err)
	assert.Equal(t, api.AlgorithmDoublyRobust, action.Algorithm)

	idx, err := action.Index()
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, idx)

	applied := o.ProvideFeedback(ctx, api.NewFeedback(c, action, 1.0))
	assert.True(t, applied)

	s := o.PerformanceSummary()
	assert.Equal(t, int64(1), s.TotalDecisions)
	assert.Equal(t, int64(1), s.TotalFeedback)
	assert.InDelta(t, 1.0, s.AverageReward, 1e-12)
	require.NotNil(t, s.LastDecisionTime)

	dr := s.Domains["d1"][api.AlgorithmDoublyRobust]
	assert.Equal(t, int64(1), dr.Updates)
	assert.Equal(t, 1, dr.HistorySize)
	assert.Equal(t, int64(0), s.Domains["d1"][api.AlgorithmOffsetTree].Updates)

	assert.Equal(t, 1, spy.decisions)
	assert.Equal(t, 1, spy.feedback)
	assert.Empty(t, spy.dropped)
}

func TestMakeDecision_ExplicitAlgorithm(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())

	action, err := o.MakeDecision(context.Background(), api.NewContext("u1", "d1", nil), api.AlgorithmOffsetTree)
	require.NoError(t, err)
	assert.Equal(t, api.AlgorithmOffsetTree, action.Algorithm)
	assert.Contains(t, action.Metadata, "leaf_id")
}

func TestMakeDecision_DoublyRobustRepeatable(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())
	ctx := context.Background()
	c := api.NewContext("u1", "d1", map[string]float64{})

	first, err := o.MakeDecision(ctx, c, api.AlgorithmDoublyRobust)
	require.NoError(t, err)
	second, err := o.MakeDecision(ctx, c, api.AlgorithmDoublyRobust)
	require.NoError(t, err)
	assert.Equal(t, first.ActionID, second.ActionID)

	for i := 0; i < 20; i++ {
		a, err := o.MakeDecision(ctx, c, api.AlgorithmOffsetTree)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)
	}
}

func TestMakeDecision_ConfigurationErrors(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())
	ctx := context.Background()

	_, err := o.MakeDecision(ctx, api.NewContext("u1", "nope", nil), "")
	assert.ErrorIs(t, err, ErrUnknownDomain)
	assert.Contains(t, err.Error(), `"nope"`)

	_, err = o.MakeDecision(ctx, api.NewContext("u1", "d1", nil), "ucb")
	assert.ErrorIs(t, err, api.ErrUnknownAlgorithm)

	assert.Equal(t, int64(0), o.PerformanceSummary().TotalDecisions)
}

func TestProvideFeedback_MismatchIsDroppedWithoutMutation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	spy := &recorderSpy{}
	o, err := New(smallConfig(), zap.New(core), WithRecorder(spy))
	require.NoError(t, err)
	ctx := context.Background()

	c := api.NewContext("u1", "d1", nil)
	drBefore, err := o.Snapshot("d1", api.AlgorithmDoublyRobust)
	require.NoError(t, err)
	otBefore, err := o.Snapshot("d1", api.AlgorithmOffsetTree)
	require.NoError(t, err)

	cases := []struct {
		fb     api.Feedback
		reason string
	}{
		{api.NewFeedback(api.NewContext("u1", "other", nil), api.Action{ActionID: "0", Algorithm: api.AlgorithmDoublyRobust}, 1), DropUnknownDomain},
		{api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: "thompson"}, 1), DropUnknownAlgorithm},
		{api.NewFeedback(c, api.Action{ActionID: "5", Algorithm: api.AlgorithmOffsetTree}, 1), DropInvalidAction},
		{api.NewFeedback(c, api.Action{ActionID: "x", Algorithm: api.AlgorithmDoublyRobust}, 1), DropInvalidAction},
	}
	for _, tc := range cases {
		assert.False(t, o.ProvideFeedback(ctx, tc.fb))
	}

	drAfter, _ := o.Snapshot("d1", api.AlgorithmDoublyRobust)
	otAfter, _ := o.Snapshot("d1", api.AlgorithmOffsetTree)
	assert.Equal(t, drBefore, drAfter)
	assert.Equal(t, otBefore, otAfter)
	assert.Equal(t, int64(0), o.PerformanceSummary().TotalFeedback)

	warnings := logs.FilterMessage("dropping feedback").All()
	require.Len(t, warnings, len(cases))
	for i, entry := range warnings {
		assert.Equal(t, cases[i].reason, entry.ContextMap()["reason"])
	}
	assert.Equal(t, []string{DropUnknownDomain, DropUnknownAlgorithm, DropInvalidAction, DropInvalidAction}, spy.dropped)
}

func TestSwitchDefaultAlgorithm(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())

	require.NoError(t, o.SwitchDefaultAlgorithm(api.AlgorithmOffsetTree))
	assert.Equal(t, api.AlgorithmOffsetTree, o.DefaultAlgorithm())

	action, err := o.MakeDecision(context.Background(), api.NewContext("u1", "d1", nil), "")
	require.NoError(t, err)
	assert.Equal(t, api.AlgorithmOffsetTree, action.Algorithm)

	err = o.SwitchDefaultAlgorithm("linucb")
	assert.ErrorIs(t, err, api.ErrUnknownAlgorithm)
	assert.Equal(t, api.AlgorithmOffsetTree, o.DefaultAlgorithm())
}

func TestDomainComparison(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())
	ctx := context.Background()
	c := api.NewContext("u1", "d1", nil)

	for i := 0; i < 10; i++ {
		o.ProvideFeedback(ctx, api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: api.AlgorithmDoublyRobust}, 0.4))
		o.ProvideFeedback(ctx, api.NewFeedback(c, api.Action{ActionID: "1", Algorithm: api.AlgorithmOffsetTree}, 0.8))
	}

	cmp, err := o.DomainComparison("d1")
	require.NoError(t, err)
	assert.Equal(t, api.AlgorithmOffsetTree, cmp.BestAlgorithm)
	assert.InDelta(t, 1.0, cmp.Algorithms[api.AlgorithmOffsetTree].RelativePerformance, 1e-12)
	assert.InDelta(t, 0.5, cmp.Algorithms[api.AlgorithmDoublyRobust].RelativePerformance, 1e-12)

	ones := 0
	for _, a := range cmp.Algorithms {
		assert.Greater(t, a.RelativePerformance, 0.0)
		assert.LessOrEqual(t, a.RelativePerformance, 1.0)
		if a.RelativePerformance == 1.0 {
			ones++
		}
	}
	assert.Equal(t, 1, ones)
}

func TestDomainComparison_NonPositiveMeanFallsOutsideUnitRange(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())
	ctx := context.Background()
	c := api.NewContext("u1", "d1", nil)

	for i := 0; i < 4; i++ {
		o.ProvideFeedback(ctx, api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: api.AlgorithmDoublyRobust}, 0.5))
		o.ProvideFeedback(ctx, api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: api.AlgorithmOffsetTree}, -0.25))
	}

	cmp, err := o.DomainComparison("d1")
	require.NoError(t, err)
	assert.Equal(t, api.AlgorithmDoublyRobust, cmp.BestAlgorithm)
	assert.InDelta(t, 1.0, cmp.Algorithms[api.AlgorithmDoublyRobust].RelativePerformance, 1e-12)
	assert.InDelta(t, -0.5, cmp.Algorithms[api.AlgorithmOffsetTree].RelativePerformance, 1e-12)
}

func TestDomainComparison_NoPositiveReward(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())

	cmp, err := o.DomainComparison("d1")
	require.NoError(t, err)
	assert.Empty(t, cmp.BestAlgorithm)
	for _, a := range cmp.Algorithms {
		assert.Equal(t, 0.0, a.RelativePerformance)
	}

	_, err = o.DomainComparison("missing")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestPerformanceSummary_Uptime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	o := newTestOrchestrator(t, smallConfig(), WithClock(func() time.Time { return now }))

	now = start.Add(90 * time.Second)
	s := o.PerformanceSummary()
	assert.Equal(t, 90*time.Second, s.Uptime)
	assert.InDelta(t, 90.0, s.UptimeSeconds, 1e-9)
	assert.Nil(t, s.LastDecisionTime)
	assert.Contains(t, s.Domains, "d1")
}

func TestSnapshot(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())

	dr, err := o.Snapshot("d1", api.AlgorithmDoublyRobust)
	require.NoError(t, err)
	require.IsType(t, bandit.DoublyRobustState{}, dr)
	assert.Len(t, dr.(bandit.DoublyRobustState).RewardModel[0], 4)

	ot, err := o.Snapshot("d1", api.AlgorithmOffsetTree)
	require.NoError(t, err)
	assert.IsType(t, bandit.OffsetTreeState{}, ot)

	_, err = o.Snapshot("d1", "bogus")
	assert.ErrorIs(t, err, api.ErrUnknownAlgorithm)
}

func TestConcurrentDecisionsAndFeedback(t *testing.T) {
	o := newTestOrchestrator(t, smallConfig())
	ctx := context.Background()

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			alg := api.Algorithms()[w%2]
			for i := 0; i < 100; i++ {
				c := api.NewContext("u", "d1", map[string]float64{"priority": float64(i%10) / 10})
				a, err := o.MakeDecision(ctx, c, alg)
				if err != nil {
					t.Error(err)
					return
				}
				o.ProvideFeedback(ctx, api.NewFeedback(c, a, 0.5))
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	s := o.PerformanceSummary()
	assert.Equal(t, int64(400), s.TotalDecisions)
	assert.Equal(t, int64(400), s.TotalFeedback)
}
