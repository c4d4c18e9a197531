package main

import (
	"context"
	"testing"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/journal"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReplayJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)

	c := api.NewContext("u1", "model_routing", nil)
	for i := 0; i < 3; i++ {
		fb := api.NewFeedback(c, api.Action{ActionID: "1", Algorithm: api.AlgorithmDoublyRobust}, 1.0)
		require.NoError(t, j.Append(journal.Entry{DecisionID: "d", Feedback: fb}))
	}
	// unknown domain is dropped, not fatal
	stray := api.NewFeedback(api.NewContext("u1", "elsewhere", nil), api.Action{ActionID: "0", Algorithm: api.AlgorithmOffsetTree}, 1.0)
	require.NoError(t, j.Append(journal.Entry{Feedback: stray}))
	require.NoError(t, j.Close())

	orch, err := orchestrator.New(orchestrator.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	stats, err := replayJournal(context.Background(), dir, orch, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 4, stats.Entries)

	s := orch.PerformanceSummary()
	assert.Equal(t, int64(3), s.TotalFeedback)
	assert.Equal(t, int64(3), s.Domains["model_routing"][api.AlgorithmDoublyRobust].Updates)
}

func TestReplayJournal_Cancelled(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)
	c := api.NewContext("u1", "model_routing", nil)
	require.NoError(t, j.Append(journal.Entry{Feedback: api.NewFeedback(c, api.Action{ActionID: "0", Algorithm: api.AlgorithmDoublyRobust}, 1)}))
	require.NoError(t, j.Close())

	orch, err := orchestrator.New(orchestrator.DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = replayJournal(ctx, dir, orch, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}
