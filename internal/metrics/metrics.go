package metrics

import (
	"strconv"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Feedback        *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	DecisionErrors  *prometheus.CounterVec
	Reward          *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	PendingMisses   prometheus.Counter
	JournalErrors   prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banditd_decisions_total",
				Help: "Total number of actions selected",
			},
			[]string{"domain", "algorithm"},
		),
		Feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banditd_feedback_total",
				Help: "Total number of feedback events applied to a bandit",
			},
			[]string{"domain", "algorithm"},
		),
		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banditd_feedback_dropped_total",
				Help: "Feedback events that matched no bandit or carried an invalid action",
			},
			[]string{"reason"},
		),
		DecisionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banditd_decision_errors_total",
				Help: "Decision requests rejected before reaching a bandit",
			},
			[]string{"reason"},
		),
		Reward: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "banditd_reward",
				Help:    "Distribution of observed rewards",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"domain", "algorithm"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banditd_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		PendingMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "banditd_pending_misses_total",
			Help: "Feedback for decisions that were unknown, expired or already rewarded",
		}),
		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "banditd_journal_errors_total",
			Help: "Number of feedback journal write errors",
		}),
	}
}

// ObserveDecision implements orchestrator.Recorder
func (m *Metrics) ObserveDecision(domain string, alg api.Algorithm, _ api.Action) {
	m.Decisions.WithLabelValues(domain, alg.String()).Inc()
}

// ObserveFeedback implements orchestrator.Recorder
func (m *Metrics) ObserveFeedback(domain string, alg api.Algorithm, reward float64) {
	m.Feedback.WithLabelValues(domain, alg.String()).Inc()
	m.Reward.WithLabelValues(domain, alg.String()).Observe(reward)
}

// FeedbackDropped implements orchestrator.Recorder
func (m *Metrics) FeedbackDropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

// ObserveHTTP counts one request served on route
func (m *Metrics) ObserveHTTP(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
