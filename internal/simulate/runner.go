package simulate

import (
	"context"
	"fmt"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"go.uber.org/zap"
)

// RunConfig controls an offline simulation
type RunConfig struct {
	Rounds       int
	Permutations int
}

// AlgorithmResult accumulates one algorithm's outcome in one domain
type AlgorithmResult struct {
	CumulativeReward float64   `json:"cumulative_reward"`
	CumulativeRegret float64   `json:"cumulative_regret"`
	MeanReward       float64   `json:"mean_reward"`
	OptimalRate      float64   `json:"optimal_rate"`
	Rewards          []float64 `json:"-"`
	optimal          int
}

// DomainResult is the head-to-head outcome for one domain
type DomainResult struct {
	Algorithms map[api.Algorithm]*AlgorithmResult `json:"algorithms"`
	Comparison orchestrator.Comparison            `json:"comparison"`
	Test       StatisticalTest                    `json:"test"`
}

// Report is the full simulation output
type Report struct {
	Rounds  int                      `json:"rounds"`
	Domains map[string]*DomainResult `json:"domains"`
	Summary orchestrator.Summary     `json:"summary"`
}

// Runner replays a synthetic environment against an orchestrator. Every
// round draws one context per domain and serves it to both algorithms, so
// their reward series are paired.
type Runner struct {
	env    *Environment
	orch   *orchestrator.Orchestrator
	cfg    RunConfig
	logger *zap.Logger
}

// NewRunner binds an environment to an orchestrator.
func NewRunner(env *Environment, orch *orchestrator.Orchestrator, cfg RunConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 1000
	}
	return &Runner{env: env, orch: orch, cfg: cfg, logger: logger}
}

// Run executes all rounds. It stops early if ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{Domains: make(map[string]*DomainResult)}
	for _, domain := range r.orch.Domains() {
		if !r.env.Has(domain) {
			return nil, fmt.Errorf("environment does not model domain %q", domain)
		}
		res := &DomainResult{Algorithms: make(map[api.Algorithm]*AlgorithmResult)}
		for _, alg := range api.Algorithms() {
			res.Algorithms[alg] = &AlgorithmResult{Rewards: make([]float64, 0, r.cfg.Rounds)}
		}
		report.Domains[domain] = res
	}

	for round := 0; round < r.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, domain := range r.orch.Domains() {
			if err := r.step(ctx, domain, report.Domains[domain]); err != nil {
				return nil, fmt.Errorf("round %d: %w", round, err)
			}
		}
		report.Rounds++
	}

	comparator := NewComparator(r.cfg.Permutations, r.env.cfg.Seed)
	for domain, res := range report.Domains {
		for _, ar := range res.Algorithms {
			if n := len(ar.Rewards); n > 0 {
				ar.MeanReward = ar.CumulativeReward / float64(n)
				ar.OptimalRate = float64(ar.optimal) / float64(n)
			}
		}

		cmp, err := r.orch.DomainComparison(domain)
		if err != nil {
			return nil, err
		}
		res.Comparison = cmp

		dr := res.Algorithms[api.AlgorithmDoublyRobust]
		ot := res.Algorithms[api.AlgorithmOffsetTree]
		res.Test = comparator.PermutationTest(
			api.AlgorithmDoublyRobust.String(), dr.Rewards,
			api.AlgorithmOffsetTree.String(), ot.Rewards)

		r.logger.Info("simulation domain finished",
			zap.String("domain", domain),
			zap.Float64("doubly_robust_mean", dr.MeanReward),
			zap.Float64("offset_tree_mean", ot.MeanReward),
			zap.Float64("p_value", res.Test.PValue))
	}

	report.Summary = r.orch.PerformanceSummary()
	return report, nil
}

func (r *Runner) step(ctx context.Context, domain string, res *DomainResult) error {
	c := r.env.SampleContext(domain)
	best, bestP := r.env.BestArm(c)

	for _, alg := range api.Algorithms() {
		action, err := r.orch.MakeDecision(ctx, c, alg)
		if err != nil {
			return err
		}
		arm, err := action.Index()
		if err != nil {
			return err
		}

		reward := r.env.Reward(c, arm)
		r.orch.ProvideFeedback(ctx, api.NewFeedback(c, action, reward))

		ar := res.Algorithms[alg]
		ar.Rewards = append(ar.Rewards, reward)
		ar.CumulativeReward += reward
		ar.CumulativeRegret += bestP - r.env.ExpectedReward(c, arm)
		if arm == best {
			ar.optimal++
		}
	}
	return nil
}
