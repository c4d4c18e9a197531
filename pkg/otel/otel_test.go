package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}

	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}

	if config.CollectorEndpoint == "" {
		t.Error("Collector endpoint should not be empty")
	}

	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestDecisionAttributes(t *testing.T) {
	attrs := DecisionAttributes("model_routing", "offset_tree")

	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes, got %d", len(attrs))
	}

	found := false
	for _, attr := range attrs {
		if attr.Key == AttrDomain && attr.Value.AsString() == "model_routing" {
			found = true
			break
		}
	}
	if !found {
		t.Error("Domain attribute not found")
	}
}

func TestActionAttributes(t *testing.T) {
	attrs := ActionAttributes("2", 0.75)

	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes, got %d", len(attrs))
	}
	if attrs[1].Value.AsFloat64() != 0.75 {
		t.Errorf("Expected confidence 0.75, got %v", attrs[1].Value.AsFloat64())
	}
}

func TestFeedbackAttributes(t *testing.T) {
	// With decision ID
	attrs := FeedbackAttributes("dec-123", 1.0)
	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes with decision ID, got %d", len(attrs))
	}

	// Without decision ID
	attrs = FeedbackAttributes("", 1.0)
	if len(attrs) != 1 {
		t.Errorf("Expected 1 attribute without decision ID, got %d", len(attrs))
	}
}

func TestLatencyAttributes(t *testing.T) {
	attrs := LatencyAttributes(25.5)

	if len(attrs) != 1 {
		t.Errorf("Expected 1 attribute, got %d", len(attrs))
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// This will use the global no-op tracer since we haven't initialized OTel
	ctx, span := StartSpan(ctx, "test-tracer", "test-span",
		attribute.String("test.key", "test.value"),
	)

	if ctx == nil {
		t.Error("Context should not be nil")
	}

	if span == nil {
		t.Error("Span should not be nil")
	}

	span.End()
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "test-tracer", "test-span")

	// Should not panic
	RecordError(span, nil, "")
	RecordError(span, nil, "test message")
	RecordError(span, errors.New("boom"), "decision rejected")

	span.End()
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "test-tracer", "test-span")

	// Should not panic
	AddEvent(span, "test-event")
	AddEvent(span, "test-event-with-attrs",
		attribute.String("key", "value"),
	)

	span.End()
}
