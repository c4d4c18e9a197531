package bandit

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/features"
	"gonum.org/v1/gonum/floats"
)

// OffsetTreeConfig holds OffsetTree hyperparameters
type OffsetTreeConfig struct {
	NumActions       int
	ContextDimension int
	MaxDepth         int     // leaves never sit deeper than this
	MinSamples       int     // leaf samples required before a split is tried
	SplitInterval    int     // updates between split attempts (tree-wide)
	MinPartition     int     // samples required on each side of a split
	MinGain          float64 // variance reduction required to split
	HistorySize      int     // bound on raw observations and performance history
	Seed             uint64  // 0 picks a random seed
}

// DefaultOffsetTreeConfig returns production defaults
func DefaultOffsetTreeConfig() OffsetTreeConfig {
	return OffsetTreeConfig{
		NumActions:       api.DefaultNumActions,
		ContextDimension: api.DefaultContextDimension,
		MaxDepth:         5,
		MinSamples:       20,
		SplitInterval:    50,
		MinPartition:     5,
		MinGain:          0.01,
		HistorySize:      DefaultHistorySize,
	}
}

type nodeKind uint8

const (
	leafNode nodeKind = iota
	splitNode
)

// treeNode is one arena slot. Leaves point into OffsetTree.leaves; split
// nodes point at their children by arena index.
type treeNode struct {
	kind  nodeKind
	depth int

	leaf int // leafNode only

	feature        int // splitNode only
	threshold      float64
	left, right    int
	samplesAtSplit int
}

// NodeState is a read-only view of one tree node
type NodeState struct {
	Leaf           bool    `json:"leaf"`
	Depth          int     `json:"depth"`
	LeafIndex      int     `json:"leaf_index,omitempty"`
	Feature        int     `json:"feature,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`
	Left           int     `json:"left,omitempty"`
	Right          int     `json:"right,omitempty"`
	SamplesAtSplit int     `json:"samples_at_split,omitempty"`
}

// OffsetTreeState is a deep copy of an OffsetTree's learned state
type OffsetTreeState struct {
	Round        int64       `json:"round"`
	Splits       int         `json:"splits"`
	Nodes        []NodeState `json:"nodes"`
	Leaves       []LeafState `json:"leaves"`
	Observations int         `json:"observations"`
	History      int         `json:"history"`
}

type observation struct {
	x      []float64
	action int
	reward float64
}

// OffsetTree partitions the feature space with a binary tree grown by
// variance-reduction splits and runs an independent Thompson-sampling bandit
// at every leaf. Splits are irreversible.
type OffsetTree struct {
	mu sync.Mutex

	cfg       OffsetTreeConfig
	extractor *features.Extractor
	rng       *rand.Rand

	nodes  []treeNode // arena, root at 0
	leaves []*leafBandit

	t      int64
	splits int

	observations *Ring[observation]
	history      *Ring[PerformanceRecord]
}

// NewOffsetTree creates a single-leaf OffsetTree
func NewOffsetTree(cfg OffsetTreeConfig, extractor *features.Extractor) *OffsetTree {
	defaults := DefaultOffsetTreeConfig()
	if cfg.NumActions <= 0 {
		cfg.NumActions = defaults.NumActions
	}
	cfg.ContextDimension = extractor.Dimension()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaults.MinSamples
	}
	if cfg.SplitInterval <= 0 {
		cfg.SplitInterval = defaults.SplitInterval
	}
	if cfg.MinPartition <= 0 {
		cfg.MinPartition = defaults.MinPartition
	}
	if cfg.MinGain <= 0 {
		cfg.MinGain = defaults.MinGain
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &OffsetTree{
		cfg:          cfg,
		extractor:    extractor,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		nodes:        []treeNode{{kind: leafNode, leaf: 0}},
		leaves:       []*leafBandit{newLeafBandit(cfg.NumActions, cfg.ContextDimension)},
		observations: NewRing[observation](cfg.HistorySize),
		history:      NewRing[PerformanceRecord](cfg.HistorySize),
	}
}

// Algorithm implements Policy.
func (b *OffsetTree) Algorithm() api.Algorithm {
	return api.AlgorithmOffsetTree
}

// SelectAction routes the Context to its leaf and Thompson-samples an arm.
func (b *OffsetTree) SelectAction(c api.Context) api.Action {
	x := b.extractor.Extract(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	nodeIdx := b.route(x)
	node := b.nodes[nodeIdx]
	leaf := b.leaves[node.leaf]

	values := leaf.sampleValues(x, b.rng)
	selected := floats.MaxIdx(values)
	confidence := softConfidence(values, values[selected])

	return api.Action{
		ActionID:          api.ActionID(selected),
		Confidence:        confidence,
		Algorithm:         api.AlgorithmOffsetTree,
		ExplorationFactor: 1 - confidence,
		PredictedReward:   values[selected],
		Metadata: map[string]any{
			"tree_depth":   node.depth,
			"leaf_samples": leaf.samples,
			"leaf_id":      nodeIdx,
		},
	}
}

// Update feeds the reward to the leaf the Context routes to and, every
// SplitInterval updates, tries to grow the tree.
func (b *OffsetTree) Update(fb api.Feedback) error {
	action, err := fb.Action.Index()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if action < 0 || action >= b.cfg.NumActions {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidAction, action, b.cfg.NumActions)
	}

	x := b.extractor.Extract(fb.Context)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.t++
	b.observations.Push(observation{x: x, action: action, reward: fb.Reward})

	leaf := b.leaves[b.nodes[b.route(x)].leaf]
	leaf.observe(x, action, fb.Reward)

	b.history.Push(PerformanceRecord{
		Timestamp:         feedbackTime(fb),
		Reward:            fb.Reward,
		PredictedReward:   fb.Action.PredictedReward,
		Action:            action,
		ExplorationFactor: fb.Action.ExplorationFactor,
	})

	if b.t%int64(b.cfg.SplitInterval) == 0 {
		b.trySplit()
	}

	return nil
}

// route descends from the root to the leaf node covering x.
func (b *OffsetTree) route(x []float64) int {
	idx := 0
	for b.nodes[idx].kind == splitNode {
		n := b.nodes[idx]
		if x[n.feature] <= n.threshold {
			idx = n.left
		} else {
			idx = n.right
		}
	}
	return idx
}

// Stats implements Policy.
func (b *OffsetTree) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := computeStats(api.AlgorithmOffsetTree, b.t, b.history)
	s.Splits = b.splits
	for _, n := range b.nodes {
		if n.kind != leafNode {
			continue
		}
		s.TreeLeaves++
		if n.depth > s.TreeDepth {
			s.TreeDepth = n.depth
		}
	}
	return s
}

// Snapshot deep-copies the tree and every leaf bandit.
func (b *OffsetTree) Snapshot() OffsetTreeState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := OffsetTreeState{
		Round:        b.t,
		Splits:       b.splits,
		Nodes:        make([]NodeState, len(b.nodes)),
		Leaves:       make([]LeafState, len(b.leaves)),
		Observations: b.observations.Len(),
		History:      b.history.Len(),
	}
	for i, n := range b.nodes {
		st.Nodes[i] = NodeState{
			Leaf:           n.kind == leafNode,
			Depth:          n.depth,
			LeafIndex:      n.leaf,
			Feature:        n.feature,
			Threshold:      n.threshold,
			Left:           n.left,
			Right:          n.right,
			SamplesAtSplit: n.samplesAtSplit,
		}
	}
	for i, l := range b.leaves {
		st.Leaves[i] = l.state()
	}
	return st
}
