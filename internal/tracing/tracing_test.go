package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestInitTracing_Disabled(t *testing.T) {
	tracer, err := InitTracing(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tracer.Component() != "" {
		t.Errorf("Expected the root tracer, got component %q", tracer.Component())
	}

	ctx, span := tracer.StartSpan(context.Background(), "test")
	defer span.End()
	if ctx == nil {
		t.Error("Expected a context")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}
}

func TestForComponent_TagsSpans(t *testing.T) {
	recorder := installRecorder(t)
	if _, err := InitTracing(Config{ServiceName: "crm-test"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	t.Cleanup(func() { InitTracing(Config{}) })

	_, span := ForComponent("inference").StartSpan(context.Background(), "inference.provider")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(ended))
	}
	if got := ended[0].InstrumentationScope().Name; got != "crm-test/inference" {
		t.Errorf("Expected tracer crm-test/inference, got %s", got)
	}

	found := false
	for _, kv := range ended[0].Attributes() {
		if kv.Key == ComponentKey && kv.Value.AsString() == "inference" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected crm.component=inference, got %v", ended[0].Attributes())
	}
}

func TestRecordError(t *testing.T) {
	recorder := installRecorder(t)

	_, span := ForComponent("delivery").StartSpan(context.Background(), "ok")
	RecordError(span, nil)
	span.End()

	_, span = ForComponent("delivery").StartSpan(context.Background(), "broken")
	RecordError(span, errors.New("db down"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Unset {
		t.Errorf("Expected unset status, got %v", ended[0].Status().Code)
	}
	if ended[1].Status().Code != codes.Error || ended[1].Status().Description != "db down" {
		t.Errorf("Expected error status, got %+v", ended[1].Status())
	}
}

func TestAttributes(t *testing.T) {
	attrs := attribute.NewSet(Attributes(Config{Environment: "staging"})...)

	tests := []struct {
		key  attribute.Key
		want string
	}{
		{semconv.ServiceNameKey, DefaultServiceName},
		{semconv.ServiceNamespaceKey, ServiceNamespace},
		{semconv.ServiceVersionKey, Version},
		{semconv.DeploymentEnvironmentKey, "staging"},
	}

	for _, tt := range tests {
		v, ok := attrs.Value(tt.key)
		if !ok || v.AsString() != tt.want {
			t.Errorf("Expected %s=%s, got %v", tt.key, tt.want, v.AsString())
		}
	}

	if _, ok := attribute.NewSet(Attributes(Config{})...).Value(semconv.DeploymentEnvironmentKey); ok {
		t.Error("Expected no environment attribute when unset")
	}
}
