// Package telemetry provides OpenTelemetry tracing for shutdown and
// process-tree termination.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with supervisor-specific helpers.
type Tracer struct {
	tracer   trace.Tracer
	provider trace.TracerProvider
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		tp := noop.NewTracerProvider()
		return &Tracer{tracer: tp.Tracer(""), provider: tp}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	tp := otel.GetTracerProvider()
	return &Tracer{tracer: tp.Tracer(name), provider: tp}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), provider: tp}
}

// Flush exports every ended span still buffered by the provider. It is a
// no-op for providers that do not buffer.
func (t *Tracer) Flush(ctx context.Context) error {
	f, ok := t.provider.(interface{ ForceFlush(context.Context) error })
	if !ok {
		return nil
	}
	return f.ForceFlush(ctx)
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Shutdown Spans ---

// ShutdownSpanOptions describes a drained shutdown sequence. The span ends
// before the gate so it is exported even when the gate kills the host.
type ShutdownSpanOptions struct {
	Tasks  int
	Failed int

	// GateOpen reports whether the gate had not fired yet at hand-off.
	GateOpen bool
}

// StartShutdownSpan starts a span for the shutdown sequence.
func (t *Tracer) StartShutdownSpan(ctx context.Context, signal string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown.sequence", trace.WithSpanKind(trace.SpanKindInternal))
	if signal != "" {
		span.SetAttributes(attribute.String("shutdown.signal", signal))
	}
	return ctx, span
}

// EndShutdownSpan ends a shutdown span with attributes.
func (t *Tracer) EndShutdownSpan(span trace.Span, opts ShutdownSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("shutdown.tasks", opts.Tasks),
		attribute.Int("shutdown.tasks_failed", opts.Failed),
		attribute.Bool("shutdown.gate_open", opts.GateOpen),
	)
	endSpan(span, err)
}

// --- Termination Spans ---

// TerminationSpanOptions describes a completed tree termination.
type TerminationSpanOptions struct {
	Root        int
	Descendants int
	Terminated  int
	Killed      int
	Suppressed  int
}

// StartTerminationSpan starts a span for terminating the tree under root.
func (t *Tracer) StartTerminationSpan(ctx context.Context, root int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "terminate.tree", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int("process.pid", root))
	return ctx, span
}

// EndTerminationSpan ends a termination span with attributes.
func (t *Tracer) EndTerminationSpan(span trace.Span, opts TerminationSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("terminate.descendants", opts.Descendants),
		attribute.Int("terminate.graceful", opts.Terminated),
		attribute.Int("terminate.killed", opts.Killed),
		attribute.Int("terminate.suppressed", opts.Suppressed),
	)
	endSpan(span, err)
}

// StartBatchSpan starts a span for one terminate-wait-kill batch.
func (t *Tracer) StartBatchSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "terminate.batch", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int("terminate.batch_size", size))
	return ctx, span
}

// EndBatchSpan ends a batch span, recording how many members needed a kill.
func (t *Tracer) EndBatchSpan(span trace.Span, escalated int) {
	span.SetAttributes(attribute.Int("terminate.escalated", escalated))
	endSpan(span, nil)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// EnvCarrier maps W3C trace headers onto environment variables
// (traceparent -> TRACEPARENT) so a supervised child can continue the trace.
type EnvCarrier map[string]string

func (c EnvCarrier) Get(key string) string {
	return c[envKey(key)]
}

func (c EnvCarrier) Set(key, value string) {
	c[envKey(key)] = value
}

func (c EnvCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Environ renders the carrier as KEY=value pairs for exec.Cmd.Env.
func (c EnvCarrier) Environ() []string {
	env := make([]string, 0, len(c))
	for k, v := range c {
		env = append(env, k+"="+v)
	}
	return env
}

func envKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		switch {
		case b >= 'a' && b <= 'z':
			b -= 'a' - 'A'
		case b == '-':
			b = '_'
		}
		out[i] = b
	}
	return string(out)
}
