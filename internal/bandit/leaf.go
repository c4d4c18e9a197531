package bandit

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// betaFloor keeps Beta parameters away from degenerate values
const betaFloor = 0.1

// leafBandit is the Thompson-sampling state of one tree partition. Alpha and
// beta hold one Beta prior per (action, feature) pair.
type leafBandit struct {
	alpha   *mat.Dense
	beta    *mat.Dense
	samples int

	rewardCount []int
	rewardSum   []float64
}

// LeafState is a deep copy of a leaf bandit
type LeafState struct {
	Samples     int         `json:"samples"`
	Alpha       [][]float64 `json:"alpha"`
	Beta        [][]float64 `json:"beta"`
	RewardCount []int       `json:"reward_count"`
	RewardSum   []float64   `json:"reward_sum"`
}

func newLeafBandit(numActions, dim int) *leafBandit {
	ones := func() *mat.Dense {
		data := make([]float64, numActions*dim)
		floats.AddConst(1, data)
		return mat.NewDense(numActions, dim, data)
	}
	return &leafBandit{
		alpha:       ones(),
		beta:        ones(),
		rewardCount: make([]int, numActions),
		rewardSum:   make([]float64, numActions),
	}
}

// sampleValues draws one Beta sample per (action, feature) and returns the
// per-action dot product with x.
func (l *leafBandit) sampleValues(x []float64, rng *rand.Rand) []float64 {
	numActions, dim := l.alpha.Dims()
	values := make([]float64, numActions)
	samples := make([]float64, dim)

	for a := 0; a < numActions; a++ {
		alphas := l.alpha.RawRowView(a)
		betas := l.beta.RawRowView(a)
		for i := range samples {
			dist := distuv.Beta{
				Alpha: math.Max(alphas[i], betaFloor),
				Beta:  math.Max(betas[i], betaFloor),
				Src:   rng,
			}
			samples[i] = dist.Rand()
		}
		values[a] = floats.Dot(samples, x)
	}
	return values
}

// observe applies the soft Beta update: rewards above 0.5 count as success
// weighted by x[i]*reward, the rest as failure weighted by x[i]*(1-reward).
func (l *leafBandit) observe(x []float64, action int, reward float64) {
	l.samples++
	l.rewardCount[action]++
	l.rewardSum[action] += reward

	if reward > 0.5 {
		floats.AddScaled(l.alpha.RawRowView(action), reward, x)
		return
	}
	floats.AddScaled(l.beta.RawRowView(action), 1-reward, x)
}

func (l *leafBandit) state() LeafState {
	rows, cols := l.alpha.Dims()
	return LeafState{
		Samples:     l.samples,
		Alpha:       rowsOf(l.alpha.RawMatrix().Data, rows, cols),
		Beta:        rowsOf(l.beta.RawMatrix().Data, rows, cols),
		RewardCount: append([]int(nil), l.rewardCount...),
		RewardSum:   append([]float64(nil), l.rewardSum...),
	}
}
