package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDecision("model_routing", api.AlgorithmDoublyRobust, api.Action{ActionID: "1"})
	m.ObserveDecision("model_routing", api.AlgorithmDoublyRobust, api.Action{ActionID: "2"})
	m.ObserveFeedback("model_routing", api.AlgorithmOffsetTree, 0.7)
	m.FeedbackDropped(orchestrator.DropInvalidAction)
	m.ObserveHTTP("/v1/decisions", 200)

	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("model_routing", "doubly_robust")); got != 2 {
		t.Errorf("Expected 2 decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Feedback.WithLabelValues("model_routing", "offset_tree")); got != 1 {
		t.Errorf("Expected 1 feedback, got %v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("invalid_action")); got != 1 {
		t.Errorf("Expected 1 dropped feedback, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/decisions", "200")); got != 1 {
		t.Errorf("Expected 1 HTTP request, got %v", got)
	}
	if got := testutil.CollectAndCount(m.Reward); got != 1 {
		t.Errorf("Expected 1 reward series, got %d", got)
	}
}

func TestNewRegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	// Registering the same names twice must panic on the same registry
	defer func() {
		if recover() == nil {
			t.Error("Expected duplicate registration to panic")
		}
	}()
	New(reg)
}

func TestSummaryCollector(t *testing.T) {
	o, err := orchestrator.New(orchestrator.Config{
		ContextDimension: 4,
		NumActions:       2,
		Domains:          []string{"d1"},
		Seed:             3,
	}, nil)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	c := api.NewContext("u1", "d1", nil)
	for i := 0; i < 4; i++ {
		o.ProvideFeedback(context.Background(), api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: api.AlgorithmDoublyRobust}, 0.5))
	}

	collector := NewSummaryCollector(o)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	expected := `
# HELP banditd_mean_reward Mean reward over the bandit's bounded history
# TYPE banditd_mean_reward gauge
banditd_mean_reward{algorithm="doubly_robust",domain="d1"} 0.5
banditd_mean_reward{algorithm="offset_tree",domain="d1"} 0
# HELP banditd_tree_leaves Number of leaves in the offset tree
# TYPE banditd_tree_leaves gauge
banditd_tree_leaves{domain="d1"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "banditd_mean_reward", "banditd_tree_leaves"); err != nil {
		t.Error(err)
	}

	// uptime, four series per bandit, two tree gauges
	if got := testutil.CollectAndCount(collector); got != 11 {
		t.Errorf("Expected 11 series, got %d", got)
	}
}
