package features

import (
	"hash/fnv"

	"github.com/fractal-lba/banditd/internal/api"
)

// Extractor maps a decision Context to a fixed-length feature vector.
// Both bandit variants of a deployment share one Extractor so their models
// always see identically scaled inputs.
//
// Layout (before padding/truncation to Dimension):
//
//	[0]   identity hash in [0, 1)
//	[1:4] domain weights (unknown domains get 1/3 each)
//	[4]   hour of day / 24
//	[5]   features["complexity"] (default 0.5)
//	[6]   features["priority"] (default 0.5)
type Extractor struct {
	dim     int
	domains map[string][3]float64
}

// RawFeatureCount is the number of features produced before padding
const RawFeatureCount = 7

// DefaultDomainWeights is the static domain table
var DefaultDomainWeights = map[string][3]float64{
	"model_routing":    {1, 0, 0},
	"content_analysis": {0, 1, 0},
	"user_engagement":  {0, 0, 1},
}

var uniformDomain = [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

// NewExtractor creates an extractor producing vectors of length dim
func NewExtractor(dim int) *Extractor {
	if dim <= 0 {
		dim = api.DefaultContextDimension
	}
	return &Extractor{
		dim:     dim,
		domains: DefaultDomainWeights,
	}
}

// Dimension returns the vector length produced by Extract.
func (e *Extractor) Dimension() int {
	return e.dim
}

// Extract computes the feature vector for c. It is a pure function of c and
// the static domain table.
func (e *Extractor) Extract(c api.Context) []float64 {
	weights, ok := e.domains[c.Domain]
	if !ok {
		weights = uniformDomain
	}

	raw := [RawFeatureCount]float64{
		IdentityHash(c.Identity),
		weights[0],
		weights[1],
		weights[2],
		float64(c.Timestamp.UTC().Hour()) / 24.0,
		c.Feature("complexity", 0.5),
		c.Feature("priority", 0.5),
	}

	x := make([]float64, e.dim)
	copy(x, raw[:]) // zero-pads or truncates
	return x
}

// IdentityHash maps an identity to [0, 1) using FNV-1a.
// Only the top 53 bits are kept so the float conversion is exact and never
// rounds up to 1.0.
func IdentityHash(identity string) float64 {
	h := fnv.New64a()
	h.Write([]byte(identity))
	return float64(h.Sum64()>>11) / (1 << 53)
}
