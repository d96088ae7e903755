package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"ruleengine/internal/engineconfig"
)

// Provider manages OpenTelemetry tracing around engine operations.
type Provider struct {
	config   engineconfig.TelemetryConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a new telemetry provider from the engine's telemetry
// configuration.
func NewProvider(cfg engineconfig.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer("ruleengine")}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "ruleengine"
	}

	slog.Info("creating exporter", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("OTLP exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Error("stdout exporter creation failed", "error", err)
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("ruleengine")}, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		config:   cfg,
		tracer:   tp.Tracer("ruleengine"),
		provider: tp,
	}, nil
}

func createOTLPExporter(cfg engineconfig.TelemetryConfig) (sdktrace.SpanExporter, error) {
	ctx := context.Background()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled returns whether telemetry is enabled.
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// Engine-operation span attributes.
const (
	AttrRequestURL  = "ruleengine.request.url"
	AttrSourceURL   = "ruleengine.request.source_url"
	AttrRequestType = "ruleengine.request.type"
	AttrBlocking    = "ruleengine.result.blocking"
	AttrAllowlisted = "ruleengine.result.allowlisted"
	AttrHostname    = "ruleengine.cosmetic.hostname"
	AttrRuleCount   = "ruleengine.rules.count"
	AttrListCount   = "ruleengine.lists.count"
	AttrChunkSize   = "ruleengine.load.chunk_size"
)

// StartLoadSpan starts a span covering LoadRules/LoadRulesAsync.
func (p *Provider) StartLoadSpan(ctx context.Context, listCount, chunkSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ruleengine.load_rules",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int(AttrListCount, listCount),
			attribute.Int(AttrChunkSize, chunkSize),
		),
	)
}

// EndLoadSpan ends a load span, recording the resulting rule count.
func (p *Provider) EndLoadSpan(span trace.Span, ruleCount int, err error) {
	span.SetAttributes(attribute.Int(AttrRuleCount, ruleCount))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartMatchSpan starts a span for match_request.
func (p *Provider) StartMatchSpan(ctx context.Context, url, sourceURL string, requestType int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ruleengine.match_request",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRequestURL, url),
			attribute.String(AttrSourceURL, sourceURL),
			attribute.Int(AttrRequestType, requestType),
		),
	)
}

// EndMatchSpan ends a match_request span with the verdict's headline facts.
func (p *Provider) EndMatchSpan(span trace.Span, blocking, allowlisted bool) {
	span.SetAttributes(
		attribute.Bool(AttrBlocking, blocking),
		attribute.Bool(AttrAllowlisted, allowlisted),
	)
	span.End()
}

// StartCosmeticSpan starts a span for get_cosmetic_result.
func (p *Provider) StartCosmeticSpan(ctx context.Context, hostname string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ruleengine.get_cosmetic_result",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(AttrHostname, hostname)),
	)
}

// NoopProvider returns a provider that does nothing (for testing).
func NoopProvider() *Provider {
	return &Provider{config: engineconfig.TelemetryConfig{Enabled: false}, tracer: otel.Tracer("ruleengine-noop")}
}

// SpanFromContext extracts a span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithTimeout creates a context with timeout for shutdown.
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
