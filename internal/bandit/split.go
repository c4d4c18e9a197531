package bandit

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// splitCandidate is the best variance-reducing cut found for one leaf
type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
	nLeft     int
	nRight    int
}

// trySplit evaluates every eligible leaf against the retained observations
// and splits those whose best median cut reduces reward variance by more
// than MinGain. Caller holds b.mu.
func (b *OffsetTree) trySplit() {
	byLeaf := make(map[int][]observation)
	for _, obs := range b.observations.Slice() {
		idx := b.route(obs.x)
		byLeaf[idx] = append(byLeaf[idx], obs)
	}

	// Only leaves that exist before this pass are considered; children
	// created below wait for the next interval.
	candidates := make([]int, 0, len(b.nodes))
	for i, n := range b.nodes {
		if n.kind == leafNode {
			candidates = append(candidates, i)
		}
	}

	for _, nodeIdx := range candidates {
		node := b.nodes[nodeIdx]
		if node.depth >= b.cfg.MaxDepth {
			continue
		}
		if b.leaves[node.leaf].samples < b.cfg.MinSamples {
			continue
		}
		best, ok := b.bestSplit(byLeaf[nodeIdx])
		if !ok || best.gain <= b.cfg.MinGain {
			continue
		}
		b.split(nodeIdx, best)
	}
}

// bestSplit tries the median of every feature as a threshold.
func (b *OffsetTree) bestSplit(rows []observation) (splitCandidate, bool) {
	n := len(rows)
	if n < 2*b.cfg.MinPartition {
		return splitCandidate{}, false
	}

	rewards := make([]float64, n)
	for i, r := range rows {
		rewards[i] = r.reward
	}
	_, totalVar := stat.PopMeanVariance(rewards, nil)

	best := splitCandidate{gain: math.Inf(-1)}
	found := false
	values := make([]float64, n)
	left := make([]float64, 0, n)
	right := make([]float64, 0, n)

	for f := 0; f < b.cfg.ContextDimension; f++ {
		for i, r := range rows {
			values[i] = r.x[f]
		}
		threshold := median(values)

		left, right = left[:0], right[:0]
		for i, r := range rows {
			if values[i] <= threshold {
				left = append(left, r.reward)
			} else {
				right = append(right, r.reward)
			}
		}
		if len(left) < b.cfg.MinPartition || len(right) < b.cfg.MinPartition {
			continue
		}

		_, leftVar := stat.PopMeanVariance(left, nil)
		_, rightVar := stat.PopMeanVariance(right, nil)
		weighted := (float64(len(left))*leftVar + float64(len(right))*rightVar) / float64(n)
		gain := totalVar - weighted

		if gain > best.gain {
			best = splitCandidate{
				feature:   f,
				threshold: threshold,
				gain:      gain,
				nLeft:     len(left),
				nRight:    len(right),
			}
			found = true
		}
	}
	return best, found
}

// split turns a leaf into a split node with two fresh leaves. The parent's
// sample counter is divided between the children in proportion to the
// partition, so left+right equals the parent's count at split time. The
// parent's leaf slot is reused by the left child.
func (b *OffsetTree) split(nodeIdx int, c splitCandidate) {
	parent := b.nodes[nodeIdx]
	parentSamples := b.leaves[parent.leaf].samples

	leftSamples := int(math.Round(float64(parentSamples) * float64(c.nLeft) / float64(c.nLeft+c.nRight)))
	rightSamples := parentSamples - leftSamples

	leftLeaf := newLeafBandit(b.cfg.NumActions, b.cfg.ContextDimension)
	leftLeaf.samples = leftSamples
	rightLeaf := newLeafBandit(b.cfg.NumActions, b.cfg.ContextDimension)
	rightLeaf.samples = rightSamples

	b.leaves[parent.leaf] = leftLeaf
	rightLeafIdx := len(b.leaves)
	b.leaves = append(b.leaves, rightLeaf)

	leftIdx := len(b.nodes)
	b.nodes = append(b.nodes,
		treeNode{kind: leafNode, depth: parent.depth + 1, leaf: parent.leaf},
		treeNode{kind: leafNode, depth: parent.depth + 1, leaf: rightLeafIdx},
	)

	b.nodes[nodeIdx] = treeNode{
		kind:           splitNode,
		depth:          parent.depth,
		leaf:           -1,
		feature:        c.feature,
		threshold:      c.threshold,
		left:           leftIdx,
		right:          leftIdx + 1,
		samplesAtSplit: parentSamples,
	}
	b.splits++
}

// median of values without reordering the input
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
