package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"wahagate/internal/models"
)

const (
	// TracerName is the instrumentation scope used by StartSpan
	TracerName = "wahagate"

	defaultShutdownTimeoutSec = 5
)

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName        string  `json:"service_name"`
	ServiceVersion     string  `json:"service_version"`
	Environment        string  `json:"environment"`
	OTLPEndpoint       string  `json:"otlp_endpoint"`
	SampleRate         float64 `json:"sample_rate"`
	Enabled            bool    `json:"enabled"`
	UseStdout          bool    `json:"use_stdout"`
	ShutdownTimeoutSec int     `json:"shutdown_timeout_sec"`
}

// DefaultTracingConfig returns sensible defaults
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:        TracerName,
		ServiceVersion:     "dev",
		Environment:        "development",
		OTLPEndpoint:       "http://localhost:4318/v1/traces",
		SampleRate:         0.1,
		Enabled:            false,
		UseStdout:          true,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ConfigFromModel overlays the gateway's tracing settings on the defaults
func ConfigFromModel(cfg models.TracingConfig, version string) TracingConfig {
	tc := DefaultTracingConfig()
	tc.Enabled = cfg.Enabled
	tc.UseStdout = cfg.UseStdout
	if cfg.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.SampleRate > 0 {
		tc.SampleRate = cfg.SampleRate
	}
	if cfg.Environment != "" {
		tc.Environment = cfg.Environment
	}
	if version != "" {
		tc.ServiceVersion = version
	}
	return tc
}

// Validate checks an enabled configuration. Disabled configs always pass.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("tracing: service_name is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if !c.UseStdout && c.OTLPEndpoint == "" {
		return fmt.Errorf("tracing: otlp_endpoint is required when use_stdout is false")
	}
	return nil
}

func (c TracingConfig) shutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSec <= 0 {
		return defaultShutdownTimeoutSec * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// TracingManager manages OpenTelemetry setup and lifecycle
type TracingManager struct {
	config         TracingConfig
	logger         *logrus.Logger
	mu             sync.Mutex
	tracerProvider *trace.TracerProvider
}

// NewTracingManager creates a new tracing manager. A nil logger is replaced
// with a silent one.
func NewTracingManager(config TracingConfig, logger *logrus.Logger) *TracingManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &TracingManager{
		config: config,
		logger: logger,
	}
}

// Initialize sets up OpenTelemetry tracing
func (tm *TracingManager) Initialize(ctx context.Context) error {
	if !tm.config.Enabled {
		tm.logger.Info("OpenTelemetry tracing is disabled")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tracing initialization aborted, context cancelled: %w", err)
	}
	if err := tm.config.Validate(); err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(tm.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter trace.SpanExporter
	if tm.config.UseStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tm.logger.Info("Using stdout trace exporter")
	} else {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(tm.config.OTLPEndpoint),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
		}
		tm.logger.WithField("endpoint", tm.config.OTLPEndpoint).Info("Using OTLP HTTP trace exporter")
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tm.config.SampleRate))),
	)

	tm.mu.Lock()
	tm.tracerProvider = provider
	tm.mu.Unlock()

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.logger.WithFields(logrus.Fields{
		"service":     tm.config.ServiceName,
		"sample_rate": tm.config.SampleRate,
	}).Info("OpenTelemetry tracing initialized")

	return nil
}

// Shutdown flushes pending spans. Calling it more than once is a no-op.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	provider := tm.tracerProvider
	tm.tracerProvider = nil
	tm.mu.Unlock()

	if provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, tm.config.shutdownTimeout())
	defer cancel()

	if err := provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	tm.logger.Info("OpenTelemetry tracing shutdown completed")
	return nil
}

// GetTracer returns a tracer instance
func (tm *TracingManager) GetTracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span on the gateway tracer
func StartSpan(ctx context.Context, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return StartSpanWithTracer(ctx, otel.Tracer(TracerName), spanName, attributes...)
}

// StartSpanWithTracer starts a new span using a specific tracer
func StartSpanWithTracer(ctx context.Context, tracer oteltrace.Tracer, spanName string, attributes ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	spanCtx, span := tracer.Start(ctx, spanName)

	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}

	return spanCtx, span
}

// EventAttributes are the span attributes identifying an inbound event
func EventAttributes(orgID, sessionID, eventID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if orgID != "" {
		attrs = append(attrs, attribute.String("org_id", orgID))
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String("session_id", sessionID))
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String("event_id", eventID))
	}
	return attrs
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attributes...)
	}
}

// SetSpanStatus sets the status of the current span
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, attributes ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if err != nil && span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attributes...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetOtelTraceID returns the trace ID of the span in ctx, or "" when there is none
func GetOtelTraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// GetOtelSpanID returns the span ID of the span in ctx, or "" when there is none
func GetOtelSpanID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// WithOtelTracing starts a span and mirrors its ids into the request context
func WithOtelTracing(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	spanCtx, span := StartSpan(ctx, spanName)

	if traceID := GetOtelTraceID(spanCtx); traceID != "" {
		spanCtx = WithTraceID(spanCtx, traceID)
	}
	if spanID := GetOtelSpanID(spanCtx); spanID != "" {
		spanCtx = WithSpanID(spanCtx, spanID)
	}

	return spanCtx, span
}
