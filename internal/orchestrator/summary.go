package orchestrator

import (
	"fmt"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/bandit"
)

// Summary aggregates orchestrator totals and every bandit's rolling stats
type Summary struct {
	TotalDecisions   int64                                     `json:"total_decisions"`
	TotalFeedback    int64                                     `json:"total_feedback"`
	AverageReward    float64                                   `json:"average_reward"`
	Uptime           time.Duration                             `json:"uptime_ns"`
	UptimeSeconds    float64                                   `json:"uptime_seconds"`
	LastDecisionTime *time.Time                                `json:"last_decision_time,omitempty"`
	DefaultAlgorithm api.Algorithm                             `json:"default_algorithm"`
	Domains          map[string]map[api.Algorithm]bandit.Stats `json:"domains"`
}

// AlgorithmComparison is one algorithm's standing within a domain
type AlgorithmComparison struct {
	bandit.Stats
	RelativePerformance float64 `json:"relative_performance"`
}

// Comparison contrasts the algorithms serving one domain
type Comparison struct {
	Domain        string                                `json:"domain"`
	Algorithms    map[api.Algorithm]AlgorithmComparison `json:"algorithms"`
	BestAlgorithm api.Algorithm                         `json:"best_algorithm,omitempty"`
}

// PerformanceSummary snapshots totals, uptime and per-bandit statistics.
func (o *Orchestrator) PerformanceSummary() Summary {
	o.mu.RLock()
	s := Summary{
		TotalDecisions:   o.totalDecisions,
		TotalFeedback:    o.totalFeedback,
		DefaultAlgorithm: o.defaultAlgorithm,
		Uptime:           o.now().Sub(o.startTime),
	}
	if o.totalFeedback > 0 {
		s.AverageReward = o.totalRewards / float64(o.totalFeedback)
	}
	if !o.lastDecisionTime.IsZero() {
		last := o.lastDecisionTime
		s.LastDecisionTime = &last
	}
	o.mu.RUnlock()

	s.UptimeSeconds = s.Uptime.Seconds()
	s.Domains = make(map[string]map[api.Algorithm]bandit.Stats, len(o.order))
	for _, domain := range o.order {
		s.Domains[domain] = o.domainStats(domain)
	}
	return s
}

func (o *Orchestrator) domainStats(domain string) map[api.Algorithm]bandit.Stats {
	pair := o.domains[domain]
	out := make(map[api.Algorithm]bandit.Stats, 2)
	for _, alg := range api.Algorithms() {
		policy, _ := pair.policy(alg)
		out[alg] = policy.Stats()
	}
	return out
}

// DomainComparison reports each algorithm's stats in domain together with
// its mean reward relative to the best algorithm there. When no algorithm
// has a positive mean reward every relative value is 0 and no best is named.
// Ties resolve to the first algorithm in api.Algorithms order.
// Relative values fall in (0, 1] only when every mean reward is positive;
// an algorithm with a mean reward at or below zero reports 0 or less.
func (o *Orchestrator) DomainComparison(domain string) (Comparison, error) {
	if _, ok := o.domains[domain]; !ok {
		return Comparison{}, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	stats := o.domainStats(domain)
	cmp := Comparison{
		Domain:     domain,
		Algorithms: make(map[api.Algorithm]AlgorithmComparison, len(stats)),
	}

	best := 0.0
	for _, alg := range api.Algorithms() {
		if r := stats[alg].MeanReward; r > best {
			best = r
			cmp.BestAlgorithm = alg
		}
	}

	for _, alg := range api.Algorithms() {
		st := stats[alg]
		rel := 0.0
		if best > 0 {
			rel = st.MeanReward / best
		}
		cmp.Algorithms[alg] = AlgorithmComparison{Stats: st, RelativePerformance: rel}
	}
	return cmp, nil
}

// Snapshot returns a deep copy of one bandit's learned state, either a
// bandit.DoublyRobustState or a bandit.OffsetTreeState.
func (o *Orchestrator) Snapshot(domain string, alg api.Algorithm) (any, error) {
	pair, ok := o.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	switch alg {
	case api.AlgorithmDoublyRobust:
		return pair.doublyRobust.Snapshot(), nil
	case api.AlgorithmOffsetTree:
		return pair.offsetTree.Snapshot(), nil
	}
	return nil, fmt.Errorf("%w: %q", api.ErrUnknownAlgorithm, alg)
}
