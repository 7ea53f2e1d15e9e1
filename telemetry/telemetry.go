// Package telemetry centralizes the ambient logging and metrics/tracing
// concerns shared by every component: a context-bound structured logger
// (goa.design/clue/log) and an OpenTelemetry meter/tracer pair for the
// handoff-latency histogram and session counters spec §5/§8 call for.
//
// Components never hold a logger field; they accept context.Context and log
// through the helpers here, matching the teacher's convention of binding
// the logger to the context once at process start (see cmd/gateway and
// cmd/agent) rather than threading a logger value through every call.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// Logf logs a formatted message at the default level, via the context's
// bound clue logger.
func Logf(ctx context.Context, format string, args ...any) {
	log.Printf(ctx, format, args...)
}

// Debugf logs a formatted message at debug level.
func Debugf(ctx context.Context, format string, args ...any) {
	log.Debugf(ctx, format, args...)
}

// Errorf logs a formatted error-level message, recording err alongside msg.
func Errorf(ctx context.Context, err error, format string, args ...any) {
	log.Printf(ctx, format+": %v", append(args, err)...)
}

const instrumentationName = "github.com/voxgate/voxgate"

// Meter returns the package-scoped OpenTelemetry meter used across voxgate.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Tracer returns the package-scoped OpenTelemetry tracer used across
// voxgate.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Metrics bundles the instruments gateway and agentcore record against.
// Constructed once per process and passed explicitly rather than hidden in
// globals, so tests can substitute a no-op meter provider.
type Metrics struct {
	HandoffLatency metric.Float64Histogram
	Sessions       metric.Int64UpDownCounter
	ToolCalls      metric.Int64Counter
	SessionErrors  metric.Int64Counter
}

// NewMetrics creates the Metrics bundle from the global meter provider. Call
// once at process start (cmd/gateway, cmd/agent).
func NewMetrics() (*Metrics, error) {
	m := Meter()

	handoffLatency, err := m.Float64Histogram(
		"voxgate.handoff.latency_ms",
		metric.WithDescription("Gateway handoff duration from H0 to H7, in milliseconds"),
	)
	if err != nil {
		return nil, err
	}
	sessions, err := m.Int64UpDownCounter(
		"voxgate.sessions.active",
		metric.WithDescription("Number of currently open client sessions"),
	)
	if err != nil {
		return nil, err
	}
	toolCalls, err := m.Int64Counter(
		"voxgate.tool_calls.total",
		metric.WithDescription("Number of tool calls dispatched, by classification"),
	)
	if err != nil {
		return nil, err
	}
	sessionErrors, err := m.Int64Counter(
		"voxgate.session_errors.total",
		metric.WithDescription("Number of upstream/tool errors observed per session, feeding the circuit breaker"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		HandoffLatency: handoffLatency,
		Sessions:       sessions,
		ToolCalls:      toolCalls,
		SessionErrors:  sessionErrors,
	}, nil
}
