package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tribunal"

// StartRunSpan starts a span for one orchestration run.
func StartRunSpan(ctx context.Context, sessionID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.session_id", sessionID),
			attribute.String("run.mode", mode),
		),
	)
}

// StartStageSpan starts a span for one stage of a run.
func StartStageSpan(ctx context.Context, sessionID string, index, size int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("run.session_id", sessionID),
			attribute.Int("stage.index", index),
			attribute.Int("stage.size", size),
		),
	)
}

// StartAgentSpan starts a span for one agent execution within a stage.
func StartAgentSpan(ctx context.Context, sessionID, agentName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent",
		trace.WithAttributes(
			attribute.String("run.session_id", sessionID),
			attribute.String("agent.name", agentName),
		),
	)
}
