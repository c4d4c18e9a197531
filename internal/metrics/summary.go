package metrics

import (
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
)

// SummarySource is anything that can report a performance summary
type SummarySource interface {
	PerformanceSummary() orchestrator.Summary
}

// SummaryCollector exports per-bandit rolling statistics as gauges computed
// at scrape time.
type SummaryCollector struct {
	source SummarySource

	meanReward         *prometheus.Desc
	predictionAccuracy *prometheus.Desc
	explorationRate    *prometheus.Desc
	updates            *prometheus.Desc
	treeLeaves         *prometheus.Desc
	treeDepth          *prometheus.Desc
	uptime             *prometheus.Desc
}

// NewSummaryCollector creates a collector over source. Register it with
// MustRegister.
func NewSummaryCollector(source SummarySource) *SummaryCollector {
	labels := []string{"domain", "algorithm"}
	return &SummaryCollector{
		source: source,
		meanReward: prometheus.NewDesc(
			"banditd_mean_reward",
			"Mean reward over the bandit's bounded history",
			labels, nil,
		),
		predictionAccuracy: prometheus.NewDesc(
			"banditd_prediction_accuracy",
			"1 - mean absolute prediction error over the last 100 rewards",
			labels, nil,
		),
		explorationRate: prometheus.NewDesc(
			"banditd_exploration_rate",
			"Mean exploration factor over the bandit's bounded history",
			labels, nil,
		),
		updates: prometheus.NewDesc(
			"banditd_bandit_updates_total",
			"Feedback events applied to the bandit since start",
			labels, nil,
		),
		treeLeaves: prometheus.NewDesc(
			"banditd_tree_leaves",
			"Number of leaves in the offset tree",
			[]string{"domain"}, nil,
		),
		treeDepth: prometheus.NewDesc(
			"banditd_tree_depth",
			"Depth of the deepest offset tree leaf",
			[]string{"domain"}, nil,
		),
		uptime: prometheus.NewDesc(
			"banditd_uptime_seconds",
			"Seconds since the orchestrator was created",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SummaryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meanReward
	ch <- c.predictionAccuracy
	ch <- c.explorationRate
	ch <- c.updates
	ch <- c.treeLeaves
	ch <- c.treeDepth
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *SummaryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.PerformanceSummary()

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.UptimeSeconds)
	for domain, byAlg := range s.Domains {
		for alg, st := range byAlg {
			a := alg.String()
			ch <- prometheus.MustNewConstMetric(c.meanReward, prometheus.GaugeValue, st.MeanReward, domain, a)
			ch <- prometheus.MustNewConstMetric(c.predictionAccuracy, prometheus.GaugeValue, st.PredictionAccuracy, domain, a)
			ch <- prometheus.MustNewConstMetric(c.explorationRate, prometheus.GaugeValue, st.ExplorationRate, domain, a)
			ch <- prometheus.MustNewConstMetric(c.updates, prometheus.CounterValue, float64(st.Updates), domain, a)
			if st.TreeLeaves > 0 {
				ch <- prometheus.MustNewConstMetric(c.treeLeaves, prometheus.GaugeValue, float64(st.TreeLeaves), domain)
				ch <- prometheus.MustNewConstMetric(c.treeDepth, prometheus.GaugeValue, float64(st.TreeDepth), domain)
			}
		}
	}
}
