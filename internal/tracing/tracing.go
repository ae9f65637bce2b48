// Package tracing configures OpenTelemetry for the CRM backend and hands out
// per-component tracers. Spans started through a component tracer carry a
// crm.component attribute.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName names spans when the configuration leaves it empty.
const DefaultServiceName = "crm-backend"

// ServiceNamespace groups the CRM services in the tracing backend.
const ServiceNamespace = "crm"

// ComponentKey tags every span with the component that started it.
const ComponentKey = attribute.Key("crm.component")

// Version is reported as service.version. Overridden at build time with
// -ldflags "-X crm-backend/internal/tracing.Version=...".
var Version = "dev"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // Jaeger collector endpoint, e.g. http://localhost:14268/api/traces
	ServiceName string
	Environment string
}

// Tracer starts spans on behalf of one component.
type Tracer struct {
	tracer    trace.Tracer
	component string
}

var (
	mu          sync.RWMutex
	serviceName = DefaultServiceName
)

// InitTracing installs the Jaeger-backed tracer provider when tracing is
// enabled. When disabled the global provider is left alone and every tracer
// is a no-op. The returned Tracer is the root, component-less tracer.
func InitTracing(cfg Config) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	mu.Lock()
	serviceName = cfg.ServiceName
	mu.Unlock()

	if !cfg.Enabled {
		return GetTracer(), nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(Attributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return GetTracer(), nil
}

// Attributes are the resource attributes describing this service.
func Attributes(cfg Config) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceNamespaceKey.String(ServiceNamespace),
		semconv.ServiceVersionKey.String(Version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	return attrs
}

// GetTracer returns the root tracer of the service.
func GetTracer() *Tracer {
	return ForComponent("")
}

// ForComponent returns a tracer for one part of the service, named
// "<service>/<component>". Tracers obtained before InitTracing start
// recording once a provider is installed.
func ForComponent(component string) *Tracer {
	mu.RLock()
	name := serviceName
	mu.RUnlock()

	if component != "" {
		name += "/" + component
	}
	return &Tracer{
		tracer:    otel.Tracer(name, trace.WithInstrumentationVersion(Version)),
		component: component,
	}
}

// Component returns the component the tracer reports as.
func (t *Tracer) Component() string {
	return t.component
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t.component != "" {
		opts = append(opts, trace.WithAttributes(ComponentKey.String(t.component)))
	}
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError marks the span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes and stops the SDK tracer provider, if one is installed.
func Shutdown(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*tracesdk.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
