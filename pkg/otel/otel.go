package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName          string
	ServiceVersion       string
	Environment          string
	CollectorEndpoint    string
	CollectorInsecure    bool
	SamplingRate         float64 // 0.0 to 1.0 (1.0 = always sample)
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig returns production defaults
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		ServiceVersion:       "0.3.0",
		Environment:          "production",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true,
		SamplingRate:         0.1,
		MaxEventsPerSpan:     64,
		MaxAttributesPerSpan: 64,
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("banditd")
	}

	// Create OTLP exporter
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider with sampling
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator for context propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	// Use context with timeout for shutdown
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	// Add attributes if provided
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Attribute keys for bandit spans
const (
	AttrDomain     = attribute.Key("bandit.domain")
	AttrAlgorithm  = attribute.Key("bandit.algorithm")
	AttrActionID   = attribute.Key("bandit.action_id")
	AttrConfidence = attribute.Key("bandit.confidence")
	AttrReward     = attribute.Key("bandit.reward")
	AttrDecisionID = attribute.Key("bandit.decision_id")

	AttrLatencyMs = attribute.Key("latency.ms")
)

func DecisionAttributes(domain, algorithm string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDomain.String(domain),
		AttrAlgorithm.String(algorithm),
	}
}

func ActionAttributes(actionID string, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActionID.String(actionID),
		AttrConfidence.Float64(confidence),
	}
}

// FeedbackAttributes omits the decision id when it is empty
func FeedbackAttributes(decisionID string, reward float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrReward.Float64(reward),
	}
	if decisionID != "" {
		attrs = append(attrs, AttrDecisionID.String(decisionID))
	}
	return attrs
}

func LatencyAttributes(latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLatencyMs.Float64(latencyMs),
	}
}
