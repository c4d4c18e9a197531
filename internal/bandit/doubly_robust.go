package bandit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/features"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DoublyRobustConfig holds DoublyRobust hyperparameters
type DoublyRobustConfig struct {
	NumActions       int
	ContextDimension int
	Alpha            float64 // exploration bonus scale
	LearningRate     float64 // single-step gradient size
	HistorySize      int
}

// DefaultDoublyRobustConfig returns production defaults
func DefaultDoublyRobustConfig() DoublyRobustConfig {
	return DoublyRobustConfig{
		NumActions:       api.DefaultNumActions,
		ContextDimension: api.DefaultContextDimension,
		Alpha:            1.0,
		LearningRate:     0.1,
		HistorySize:      DefaultHistorySize,
	}
}

// DoublyRobust scores each arm with a per-arm linear reward model plus an
// importance-weighted UCB bonus, and learns with one gradient step per
// feedback. Selection is deterministic for a given state and Context.
type DoublyRobust struct {
	mu sync.Mutex

	cfg       DoublyRobustConfig
	extractor *features.Extractor

	rewardModel       *mat.Dense // NumActions x ContextDimension
	importanceWeights []float64  // per-arm visit counts, start at 1
	actionProbs       []float64  // importanceWeights normalized
	t                 int64

	history *Ring[PerformanceRecord]
}

// DoublyRobustState is a deep copy of a DoublyRobust's learned state
type DoublyRobustState struct {
	Round             int64       `json:"round"`
	RewardModel       [][]float64 `json:"reward_model"`
	ImportanceWeights []float64   `json:"importance_weights"`
	ActionProbs       []float64   `json:"action_probs"`
	History           int         `json:"history"`
}

// NewDoublyRobust creates a DoublyRobust bandit. The extractor's dimension
// always wins over cfg.ContextDimension.
func NewDoublyRobust(cfg DoublyRobustConfig, extractor *features.Extractor) *DoublyRobust {
	defaults := DefaultDoublyRobustConfig()
	if cfg.NumActions <= 0 {
		cfg.NumActions = defaults.NumActions
	}
	cfg.ContextDimension = extractor.Dimension()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}

	weights := make([]float64, cfg.NumActions)
	floats.AddConst(1, weights)
	probs := make([]float64, cfg.NumActions)
	floats.AddConst(1/float64(cfg.NumActions), probs)

	return &DoublyRobust{
		cfg:               cfg,
		extractor:         extractor,
		rewardModel:       mat.NewDense(cfg.NumActions, cfg.ContextDimension, nil),
		importanceWeights: weights,
		actionProbs:       probs,
		history:           NewRing[PerformanceRecord](cfg.HistorySize),
	}
}

// Algorithm implements Policy.
func (b *DoublyRobust) Algorithm() api.Algorithm {
	return api.AlgorithmDoublyRobust
}

// SelectAction picks argmax(predicted + bonus); ties go to the lowest index.
func (b *DoublyRobust) SelectAction(c api.Context) api.Action {
	x := b.extractor.Extract(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.cfg.NumActions
	scores := make([]float64, n)
	bonuses := make([]float64, n)
	logT := math.Log(float64(b.t) + 1)

	for a := 0; a < n; a++ {
		predicted := floats.Dot(b.rewardModel.RawRowView(a), x)
		bonuses[a] = b.cfg.Alpha * math.Sqrt(logT/math.Max(1, b.importanceWeights[a]))
		scores[a] = predicted + bonuses[a]
	}

	selected := floats.MaxIdx(scores)

	return api.Action{
		ActionID:          api.ActionID(selected),
		Confidence:        softConfidence(scores, scores[selected]),
		Algorithm:         api.AlgorithmDoublyRobust,
		ExplorationFactor: bonuses[selected],
		PredictedReward:   scores[selected],
		Metadata: map[string]any{
			"importance_weight": b.importanceWeights[selected],
			"action_prob":       b.actionProbs[selected],
			"round":             b.t,
		},
	}
}

// Update applies one gradient step toward the observed reward for the
// chosen arm and bumps its importance weight.
func (b *DoublyRobust) Update(fb api.Feedback) error {
	action, err := fb.Action.Index()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := b.checkAction(action); err != nil {
		return err
	}

	x := b.extractor.Extract(fb.Context)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.t++

	weights := b.rewardModel.RawRowView(action)
	predicted := floats.Dot(weights, x)
	floats.AddScaled(weights, b.cfg.LearningRate*(fb.Reward-predicted), x)

	b.importanceWeights[action]++
	total := floats.Sum(b.importanceWeights)
	for i, w := range b.importanceWeights {
		b.actionProbs[i] = w / total
	}

	b.history.Push(PerformanceRecord{
		Timestamp:         feedbackTime(fb),
		Reward:            fb.Reward,
		PredictedReward:   fb.Action.PredictedReward,
		Action:            action,
		ExplorationFactor: fb.Action.ExplorationFactor,
	})

	return nil
}

// Predict returns the model's current linear estimate for one arm, without
// the exploration bonus.
func (b *DoublyRobust) Predict(c api.Context, action int) (float64, error) {
	if err := b.checkAction(action); err != nil {
		return 0, err
	}
	x := b.extractor.Extract(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	return floats.Dot(b.rewardModel.RawRowView(action), x), nil
}

func (b *DoublyRobust) checkAction(action int) error {
	if action < 0 || action >= b.cfg.NumActions {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidAction, action, b.cfg.NumActions)
	}
	return nil
}

// Stats implements Policy.
func (b *DoublyRobust) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return computeStats(api.AlgorithmDoublyRobust, b.t, b.history)
}

// Snapshot deep-copies the learned state.
func (b *DoublyRobust) Snapshot() DoublyRobustState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return DoublyRobustState{
		Round:             b.t,
		RewardModel:       rowsOf(b.rewardModel.RawMatrix().Data, b.cfg.NumActions, b.cfg.ContextDimension),
		ImportanceWeights: append([]float64(nil), b.importanceWeights...),
		ActionProbs:       append([]float64(nil), b.actionProbs...),
		History:           b.history.Len(),
	}
}

func feedbackTime(fb api.Feedback) time.Time {
	if fb.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return fb.Timestamp
}
