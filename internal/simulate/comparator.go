package simulate

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// StatisticalTest is the outcome of a paired significance test
type StatisticalTest struct {
	TestName     string  `json:"test_name"`
	Statistic    float64 `json:"statistic"`
	PValue       float64 `json:"p_value"`
	Significant  bool    `json:"significant"` // p < 0.05
	EffectSize   float64 `json:"effect_size"` // Cohen's d
	MethodA      string  `json:"method_a"`
	MethodB      string  `json:"method_b"`
	Permutations int     `json:"permutations"`
}

// Comparator performs statistical comparisons between reward series.
type Comparator struct {
	numPermutations int
	seed            uint64
}

// NewComparator creates a new comparator.
func NewComparator(numPermutations int, seed uint64) *Comparator {
	if numPermutations <= 0 {
		numPermutations = 1000
	}
	return &Comparator{numPermutations: numPermutations, seed: seed}
}

// PermutationTest tests whether two paired reward series differ in mean.
// Under the null hypothesis the labels within each pair are exchangeable,
// so each permutation swaps every pair with probability 1/2.
func (c *Comparator) PermutationTest(nameA string, a []float64, nameB string, b []float64) StatisticalTest {
	result := StatisticalTest{
		TestName:     "permutation",
		MethodA:      nameA,
		MethodB:      nameB,
		PValue:       1.0,
		Permutations: c.numPermutations,
	}
	if len(a) != len(b) || len(a) == 0 {
		return result
	}

	diffs := make([]float64, len(a))
	for i := range a {
		diffs[i] = a[i] - b[i]
	}
	observed := stat.Mean(diffs, nil)

	rng := rand.New(rand.NewPCG(c.seed, c.seed+1))
	count := 0
	for perm := 0; perm < c.numPermutations; perm++ {
		sum := 0.0
		for _, d := range diffs {
			if rng.IntN(2) == 0 {
				sum += d
			} else {
				sum -= d
			}
		}
		if math.Abs(sum/float64(len(diffs))) >= math.Abs(observed) {
			count++
		}
	}

	result.Statistic = observed
	result.PValue = float64(count) / float64(c.numPermutations)
	result.Significant = result.PValue < 0.05
	result.EffectSize = cohensD(a, b)
	return result
}

// cohensD uses the pooled sample standard deviation.
func cohensD(a, b []float64) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	meanA, sdA := stat.MeanStdDev(a, nil)
	meanB, sdB := stat.MeanStdDev(b, nil)

	na, nb := float64(len(a)), float64(len(b))
	pooled := math.Sqrt(((na-1)*sdA*sdA + (nb-1)*sdB*sdB) / (na + nb - 2))
	if pooled == 0 {
		return 0
	}
	return (meanA - meanB) / pooled
}
