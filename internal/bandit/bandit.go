// Package bandit implements the two contextual bandit variants served by the
// orchestrator: a linear DoublyRobust model with UCB-style exploration and an
// OffsetTree that partitions the context space and runs Thompson sampling at
// its leaves.
//
// Every bandit owns its state exclusively and serializes SelectAction and
// Update behind its own mutex, so a single instance can be shared by
// concurrent callers.
package bandit

import (
	"errors"
	"math"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidAction is returned when an action index is not one this bandit
// could have produced.
var ErrInvalidAction = errors.New("invalid action index")

const (
	// epsilon guards the confidence normalization denominator
	epsilon = 1e-8

	// DefaultHistorySize bounds every per-bandit history buffer
	DefaultHistorySize = 1000

	// accuracyWindow is the number of recent observations used for
	// prediction accuracy.
	accuracyWindow = 100
)

// Policy is implemented by both bandit variants.
type Policy interface {
	Algorithm() api.Algorithm
	SelectAction(c api.Context) api.Action
	Update(fb api.Feedback) error
	Stats() Stats
}

// PerformanceRecord is one applied feedback event
type PerformanceRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	Reward            float64   `json:"reward"`
	PredictedReward   float64   `json:"predicted_reward"`
	Action            int       `json:"action"`
	ExplorationFactor float64   `json:"exploration_factor"`
}

// Stats summarizes a bandit's rolling performance
type Stats struct {
	Algorithm          api.Algorithm `json:"algorithm"`
	Updates            int64         `json:"updates"`
	HistorySize        int           `json:"history_size"`
	MeanReward         float64       `json:"mean_reward"`
	PredictionAccuracy float64       `json:"prediction_accuracy"`
	ExplorationRate    float64       `json:"exploration_rate"`

	// OffsetTree only
	TreeLeaves int `json:"tree_leaves,omitempty"`
	TreeDepth  int `json:"tree_depth,omitempty"`
	Splits     int `json:"splits,omitempty"`
}

// computeStats derives rolling statistics from a performance history.
// Accuracy is 1 - mean absolute prediction error over the last 100 records.
func computeStats(alg api.Algorithm, updates int64, history *Ring[PerformanceRecord]) Stats {
	s := Stats{
		Algorithm:   alg,
		Updates:     updates,
		HistorySize: history.Len(),
	}
	if history.Len() == 0 {
		return s
	}

	records := history.Slice()
	rewards := make([]float64, len(records))
	exploration := make([]float64, len(records))
	for i, r := range records {
		rewards[i] = r.Reward
		exploration[i] = r.ExplorationFactor
	}
	s.MeanReward = stat.Mean(rewards, nil)
	s.ExplorationRate = stat.Mean(exploration, nil)

	recent := history.Last(accuracyWindow)
	errs := make([]float64, len(recent))
	for i, r := range recent {
		diff := r.Reward - r.PredictedReward
		if diff < 0 {
			diff = -diff
		}
		errs[i] = diff
	}
	s.PredictionAccuracy = 1 - stat.Mean(errs, nil)

	return s
}

// softConfidence is max/(sum+eps) clamped into [0, 1]. It is a diagnostic
// magnitude, not a probability. All-negative scores keep the raw ratio.
func softConfidence(scores []float64, best float64) float64 {
	c := best / (floats.Sum(scores) + epsilon)
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// rowsOf copies a row-major matrix into nested slices
func rowsOf(data []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = append([]float64(nil), data[i*cols:(i+1)*cols]...)
	}
	return out
}
