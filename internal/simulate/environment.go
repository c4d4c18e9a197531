// Package simulate runs the bandits offline against a synthetic, seeded
// reward environment and compares the algorithms statistically.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/features"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// EnvironmentConfig parameterizes a synthetic environment
type EnvironmentConfig struct {
	Domains          []string
	NumActions       int
	ContextDimension int
	Identities       int     // size of the simulated user pool
	Signal           float64 // scale of the context-dependent part of the reward
	Seed             uint64
	Start            time.Time
}

// Environment assigns each (domain, arm) a linear expected reward over the
// extracted feature vector and realizes rewards as Bernoulli draws.
type Environment struct {
	cfg       EnvironmentConfig
	extractor *features.Extractor
	rng       *rand.Rand
	bias      map[string][]float64
	weights   map[string][][]float64
	step      int
}

// NewEnvironment draws arm biases and weights from cfg.Seed.
func NewEnvironment(cfg EnvironmentConfig) (*Environment, error) {
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("environment needs at least one domain")
	}
	if cfg.NumActions <= 0 {
		cfg.NumActions = api.DefaultNumActions
	}
	if cfg.ContextDimension <= 0 {
		cfg.ContextDimension = api.DefaultContextDimension
	}
	if cfg.Identities <= 0 {
		cfg.Identities = 100
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5deece66d))
	env := &Environment{
		cfg:       cfg,
		extractor: features.NewExtractor(cfg.ContextDimension),
		rng:       rng,
		bias:      make(map[string][]float64, len(cfg.Domains)),
		weights:   make(map[string][][]float64, len(cfg.Domains)),
	}

	for _, domain := range cfg.Domains {
		bias := make([]float64, cfg.NumActions)
		weights := make([][]float64, cfg.NumActions)
		for a := range bias {
			bias[a] = 0.2 + 0.6*rng.Float64()
			weights[a] = make([]float64, cfg.ContextDimension)
			for i := range weights[a] {
				weights[a][i] = cfg.Signal * (rng.Float64()*2 - 1)
			}
		}
		env.bias[domain] = bias
		env.weights[domain] = weights
	}
	return env, nil
}

// SetArm overrides one arm's reward model; used to build scenarios with a
// known best arm.
func (e *Environment) SetArm(domain string, arm int, bias float64, weights []float64) {
	e.bias[domain][arm] = bias
	w := make([]float64, e.cfg.ContextDimension)
	copy(w, weights)
	e.weights[domain][arm] = w
}

// Has reports whether domain has a reward model.
func (e *Environment) Has(domain string) bool {
	_, ok := e.bias[domain]
	return ok
}

// SampleContext draws a request for domain. Time advances one minute per call.
func (e *Environment) SampleContext(domain string) api.Context {
	identity := fmt.Sprintf("sim-user-%d", e.rng.IntN(e.cfg.Identities))
	c := api.NewContext(identity, domain, map[string]float64{
		"complexity": e.rng.Float64(),
		"priority":   e.rng.Float64(),
	})
	c.Timestamp = e.cfg.Start.Add(time.Duration(e.step) * time.Minute)
	e.step++
	return c
}

// ExpectedReward is the Bernoulli parameter for arm in context c.
func (e *Environment) ExpectedReward(c api.Context, arm int) float64 {
	x := e.extractor.Extract(c)
	p := e.bias[c.Domain][arm] + floats.Dot(e.weights[c.Domain][arm], x)
	return min(max(p, 0), 1)
}

// BestArm returns the arm with the highest expected reward in c.
func (e *Environment) BestArm(c api.Context) (int, float64) {
	best, bestP := 0, -1.0
	for a := 0; a < e.cfg.NumActions; a++ {
		if p := e.ExpectedReward(c, a); p > bestP {
			best, bestP = a, p
		}
	}
	return best, bestP
}

// Reward realizes a 0/1 reward for playing arm in c.
func (e *Environment) Reward(c api.Context, arm int) float64 {
	return distuv.Bernoulli{P: e.ExpectedReward(c, arm), Src: e.rng}.Rand()
}
