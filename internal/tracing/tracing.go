// Package tracing wires OpenTelemetry spans around the run lifecycle:
// one root span per run, with nested spans for each LLM call, tool
// invocation, and action the engine reports. The teacher's own
// tracing collector persists spans to Postgres directly
// (internal/agent/loop_tracing.go's emitLLMSpan/emitToolSpan/
// emitAgentSpan); this module instead drives the real OTel SDK its
// go.mod depends on, exporting over OTLP/HTTP.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls exporter construction. An empty Endpoint disables
// export entirely (spans are created but never sent).
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64 // 0 disables, 1 samples every run; default 1
}

// Tracer wraps the run-lifecycle span vocabulary spec §4's telemetry
// section calls for, over a single underlying trace.Tracer.
type Tracer struct {
	tracer trace.Tracer
}

// New builds a Tracer and registers a TracerProvider as the global
// OTel provider. The returned shutdown func flushes and closes the
// exporter; callers must invoke it on process exit. If cfg.Endpoint is
// empty, spans are created locally but never exported.
func New(ctx context.Context, cfg Config) (*Tracer, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}
	if cfg.SampleRatio == 0 {
		cfg.SampleRatio = 1
	}

	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	if cfg.SampleRatio >= 1 {
		sampler = sdktrace.AlwaysSample()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown, nil
}

// StartRun opens the root span for one run process (spec §2's run,
// identified by run id). Every LLM/tool/action span for this run
// should descend from the returned context.
func (t *Tracer) StartRun(ctx context.Context, runID, sessionKey, channel, engineID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run", trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.session_key", sessionKey),
		attribute.String("run.channel", channel),
		attribute.String("run.engine_id", engineID),
	))
}

// StartLLMCall opens a child span for one engine Started→Completed
// exchange (spec §3 EngineEvent).
func (t *Tracer) StartLLMCall(ctx context.Context, engineID, model string, iteration int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("llm.%s", engineID), trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("llm.engine_id", engineID),
		attribute.String("llm.model", model),
		attribute.Int("llm.iteration", iteration),
	))
}

// StartAction opens a child span for one Action event (tool call,
// shell command, file change, web search, or subagent delegation).
func (t *Tracer) StartAction(ctx context.Context, kind, title string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("action.%s", kind), trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String("action.kind", kind),
		attribute.String("action.title", title),
	))
}

// EndWithResult closes span, recording usage attributes and an error
// status when ok is false (spec §3 Completed event fields).
func EndWithResult(span trace.Span, ok bool, inputTokens, outputTokens, cachedTokens int, err error) {
	span.SetAttributes(
		attribute.Int("usage.input_tokens", inputTokens),
		attribute.Int("usage.output_tokens", outputTokens),
		attribute.Int("usage.cached_tokens", cachedTokens),
	)
	if !ok || err != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, statusMessage(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func statusMessage(err error) string {
	if err == nil {
		return "run failed"
	}
	return err.Error()
}

// TraceID returns the active span's trace id as a string, or "" if
// ctx carries no recording span. Attached to outbound messages and
// log lines so a user-visible failure can be correlated to a trace.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
