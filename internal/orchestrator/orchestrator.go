package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/bandit"
	"github.com/fractal-lba/banditd/internal/features"
	"github.com/fractal-lba/banditd/pkg/otel"
	"go.uber.org/zap"
)

var (
	ErrUnknownDomain = errors.New("unknown domain")
	ErrNoDomains     = errors.New("at least one domain is required")
)

const tracerName = "banditd/orchestrator"

// Feedback drop reasons reported to the Recorder
const (
	DropUnknownDomain    = "unknown_domain"
	DropUnknownAlgorithm = "unknown_algorithm"
	DropInvalidAction    = "invalid_action"
)

// DefaultDomains is the domain set used when none is configured
var DefaultDomains = []string{"model_routing", "content_analysis", "user_engagement"}

// Config holds orchestrator construction parameters
type Config struct {
	ContextDimension  int
	NumActions        int
	Domains           []string
	DefaultAlgorithm  api.Algorithm
	DoublyRobustAlpha float64
	LearningRate      float64
	MaxTreeDepth      int
	MinSamples        int
	Seed              uint64 // 0 seeds OffsetTree samplers randomly
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	dr := bandit.DefaultDoublyRobustConfig()
	ot := bandit.DefaultOffsetTreeConfig()
	return Config{
		ContextDimension:  api.DefaultContextDimension,
		NumActions:        api.DefaultNumActions,
		Domains:           slices.Clone(DefaultDomains),
		DefaultAlgorithm:  api.AlgorithmDoublyRobust,
		DoublyRobustAlpha: dr.Alpha,
		LearningRate:      dr.LearningRate,
		MaxTreeDepth:      ot.MaxDepth,
		MinSamples:        ot.MinSamples,
	}
}

// Recorder receives decision and feedback events, typically for Prometheus.
type Recorder interface {
	ObserveDecision(domain string, alg api.Algorithm, action api.Action)
	ObserveFeedback(domain string, alg api.Algorithm, reward float64)
	FeedbackDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, api.Algorithm, api.Action) {}
func (nopRecorder) ObserveFeedback(string, api.Algorithm, float64)    {}
func (nopRecorder) FeedbackDropped(string)                            {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder routes decision/feedback events to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides time.Now for uptime and decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// domainBandits is the pair of bandit instances owned by one domain.
type domainBandits struct {
	doublyRobust *bandit.DoublyRobust
	offsetTree   *bandit.OffsetTree
}

func (d *domainBandits) policy(alg api.Algorithm) (bandit.Policy, bool) {
	switch alg {
	case api.AlgorithmDoublyRobust:
		return d.doublyRobust, true
	case api.AlgorithmOffsetTree:
		return d.offsetTree, true
	}
	return nil, false
}

// Orchestrator owns one bandit of each algorithm per configured domain and
// routes decisions and feedback to them. The domain set is fixed at
// construction. Each bandit serializes its own state; the orchestrator lock
// only guards the default algorithm and the global counters.
type Orchestrator struct {
	cfg       Config
	extractor *features.Extractor
	domains   map[string]*domainBandits
	order     []string

	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu               sync.RWMutex
	defaultAlgorithm api.Algorithm
	totalDecisions   int64
	totalFeedback    int64
	totalRewards     float64
	startTime        time.Time
	lastDecisionTime time.Time
}

// New creates an orchestrator with a fresh bandit pair for every domain.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.ContextDimension <= 0 {
		cfg.ContextDimension = defaults.ContextDimension
	}
	if cfg.NumActions <= 0 {
		cfg.NumActions = defaults.NumActions
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = defaults.DefaultAlgorithm
	}
	if cfg.DoublyRobustAlpha <= 0 {
		cfg.DoublyRobustAlpha = defaults.DoublyRobustAlpha
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaults.LearningRate
	}
	if cfg.Domains == nil {
		cfg.Domains = defaults.Domains
	}
	if len(cfg.Domains) == 0 {
		return nil, ErrNoDomains
	}
	if !cfg.DefaultAlgorithm.Valid() {
		return nil, fmt.Errorf("%w: %q", api.ErrUnknownAlgorithm, cfg.DefaultAlgorithm)
	}

	o := &Orchestrator{
		cfg:              cfg,
		extractor:        features.NewExtractor(cfg.ContextDimension),
		domains:          make(map[string]*domainBandits, len(cfg.Domains)),
		logger:           logger,
		recorder:         nopRecorder{},
		now:              time.Now,
		defaultAlgorithm: cfg.DefaultAlgorithm,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.startTime = o.now()

	for i, domain := range cfg.Domains {
		if _, dup := o.domains[domain]; dup {
			continue
		}
		o.domains[domain] = o.newDomainBandits(i)
		o.order = append(o.order, domain)
	}

	o.logger.Info("orchestrator initialized",
		zap.Strings("domains", o.order),
		zap.Int("context_dimension", cfg.ContextDimension),
		zap.Int("num_actions", cfg.NumActions),
		zap.String("default_algorithm", cfg.DefaultAlgorithm.String()))

	return o, nil
}

func (o *Orchestrator) newDomainBandits(i int) *domainBandits {
	drCfg := bandit.DefaultDoublyRobustConfig()
	drCfg.NumActions = o.cfg.NumActions
	drCfg.Alpha = o.cfg.DoublyRobustAlpha
	drCfg.LearningRate = o.cfg.LearningRate

	otCfg := bandit.DefaultOffsetTreeConfig()
	otCfg.NumActions = o.cfg.NumActions
	otCfg.MaxDepth = o.cfg.MaxTreeDepth
	otCfg.MinSamples = o.cfg.MinSamples
	if o.cfg.Seed != 0 {
		otCfg.Seed = o.cfg.Seed + uint64(i)
	}

	return &domainBandits{
		doublyRobust: bandit.NewDoublyRobust(drCfg, o.extractor),
		offsetTree:   bandit.NewOffsetTree(otCfg, o.extractor),
	}
}

// Domains returns the configured domains in construction order.
func (o *Orchestrator) Domains() []string {
	return slices.Clone(o.order)
}

// DefaultAlgorithm returns the algorithm used when a decision names none.
func (o *Orchestrator) DefaultAlgorithm() api.Algorithm {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.defaultAlgorithm
}

// MakeDecision selects an action for c. An empty algorithm uses the
// orchestrator default. Unknown domains or algorithms are configuration
// errors and never produce a placeholder Action.
func (o *Orchestrator) MakeDecision(ctx context.Context, c api.Context, alg api.Algorithm) (api.Action, error) {
	if alg == "" {
		alg = o.DefaultAlgorithm()
	}

	_, span := otel.StartSpan(ctx, tracerName, "MakeDecision", otel.DecisionAttributes(c.Domain, alg.String())...)
	defer span.End()

	policy, err := o.lookup(c.Domain, alg)
	if err != nil {
		otel.RecordError(span, err, "decision rejected")
		return api.Action{}, err
	}

	action := policy.SelectAction(c)

	o.mu.Lock()
	o.totalDecisions++
	o.lastDecisionTime = o.now()
	o.mu.Unlock()

	o.recorder.ObserveDecision(c.Domain, alg, action)
	span.SetAttributes(otel.ActionAttributes(action.ActionID, action.Confidence)...)

	o.logger.Debug("decision made",
		zap.String("domain", c.Domain),
		zap.String("algorithm", alg.String()),
		zap.String("action_id", action.ActionID),
		zap.Float64("confidence", action.Confidence))

	return action, nil
}

// ProvideFeedback routes fb to the bandit that produced its Action. Feedback
// whose (domain, algorithm) pair or action index matches no bandit is logged
// and dropped; it never returns an error. The result reports whether the
// feedback was applied.
func (o *Orchestrator) ProvideFeedback(ctx context.Context, fb api.Feedback) bool {
	domain, alg := fb.Context.Domain, fb.Action.Algorithm

	_, span := otel.StartSpan(ctx, tracerName, "ProvideFeedback", otel.DecisionAttributes(domain, alg.String())...)
	defer span.End()
	span.SetAttributes(otel.FeedbackAttributes("", fb.Reward)...)

	policy, err := o.lookup(domain, alg)
	if err != nil {
		reason := DropUnknownAlgorithm
		if errors.Is(err, ErrUnknownDomain) {
			reason = DropUnknownDomain
		}
		o.drop(fb, reason, err)
		return false
	}

	if err := policy.Update(fb); err != nil {
		o.drop(fb, DropInvalidAction, err)
		return false
	}

	o.mu.Lock()
	o.totalFeedback++
	o.totalRewards += fb.Reward
	o.mu.Unlock()

	o.recorder.ObserveFeedback(domain, alg, fb.Reward)
	return true
}

func (o *Orchestrator) drop(fb api.Feedback, reason string, err error) {
	o.recorder.FeedbackDropped(reason)
	o.logger.Warn("dropping feedback",
		zap.String("reason", reason),
		zap.String("domain", fb.Context.Domain),
		zap.String("algorithm", fb.Action.Algorithm.String()),
		zap.String("action_id", fb.Action.ActionID),
		zap.Error(err))
}

// SwitchDefaultAlgorithm changes the algorithm used for decisions that do
// not name one.
func (o *Orchestrator) SwitchDefaultAlgorithm(alg api.Algorithm) error {
	if _, err := api.ParseAlgorithm(string(alg)); err != nil {
		return err
	}

	o.mu.Lock()
	prev := o.defaultAlgorithm
	o.defaultAlgorithm = alg
	o.mu.Unlock()

	o.logger.Info("default algorithm switched",
		zap.String("from", prev.String()),
		zap.String("to", alg.String()))
	return nil
}

func (o *Orchestrator) lookup(domain string, alg api.Algorithm) (bandit.Policy, error) {
	pair, ok := o.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	policy, ok := pair.policy(alg)
	if !ok {
		return nil, fmt.Errorf("%w: %q", api.ErrUnknownAlgorithm, alg)
	}
	return policy, nil
}
