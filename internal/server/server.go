// Package server exposes the orchestrator over HTTP.
package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/fractal-lba/banditd/internal/journal"
	"github.com/fractal-lba/banditd/internal/metrics"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/fractal-lba/banditd/internal/pending"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "banditd/server"

// FeedbackJournal records applied feedback
type FeedbackJournal interface {
	Append(journal.Entry) error
}

// Config holds HTTP-layer settings
type Config struct {
	PendingTTL      time.Duration
	MaxBodyBytes    int64
	RateLimit       float64 // requests/sec, 0 disables
	RateBurst       int
	MetricsUser     string
	MetricsPassword string
}

// Server routes HTTP requests to the orchestrator and the pending ledger
type Server struct {
	orch     *orchestrator.Orchestrator
	pending  pending.Store
	journal  FeedbackJournal
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	logger   *zap.Logger
	validate *validator.Validate
	cfg      Config
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithJournal records every applied feedback event to j.
func WithJournal(j FeedbackJournal) Option {
	return func(s *Server) { s.journal = j }
}

// WithGatherer selects the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server. m must be registered on the gatherer served at
// /metrics for the counters to be visible there.
func New(cfg Config, orch *orchestrator.Orchestrator, store pending.Store, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = pending.DefaultConfig().TTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		orch:     orch,
		pending:  store,
		metrics:  m,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		validate: validator.New(),
		cfg:      cfg,
		now:      time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit * 2)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /v1/decisions", s.handleDecision, true)
	s.route(mux, "POST /v1/feedback", s.handleFeedback, true)
	s.route(mux, "GET /v1/performance", s.handlePerformance, false)
	s.route(mux, "GET /v1/domains/{domain}/comparison", s.handleComparison, false)
	s.route(mux, "PUT /v1/default-algorithm", s.handleDefaultAlgorithm, false)
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc, limited bool) {
	var handler http.Handler = h
	if limited && s.limiter != nil {
		handler = s.rateLimit(handler)
	}
	mux.Handle(pattern, s.instrument(pattern, handler))
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			secs := int(delay/time.Second) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, rec.code)
		}
	})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})

	if s.cfg.MetricsUser == "" {
		return handler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.MetricsUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.MetricsPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
