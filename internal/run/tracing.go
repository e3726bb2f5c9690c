// Tracing instrumentation for the run engine.
package run

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/conductor/internal/graph"
	"github.com/vinayprograms/conductor/internal/planner"
)

// startPlanningSpan starts a span for one planning attempt.
func startPlanningSpan(ctx context.Context, runID string, revision bool) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "run.plan")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("plan.revision", revision),
	)
	return ctx, span
}

// endPlanningSpan ends the planning span with result info.
func endPlanningSpan(span trace.Span, plan *planner.Plan, err error) {
	if plan != nil {
		span.SetAttributes(
			attribute.Int("plan.tasks", len(plan.Tasks)),
			attribute.Int("plan.warnings", len(plan.Warnings)),
		)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startTaskSpan starts a span for one task attempt.
func startTaskSpan(ctx context.Context, runID string, t graph.Task) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task."+t.ID)
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("task.id", t.ID),
		attribute.String("task.class", string(t.Class)),
		attribute.Int("task.attempt", int(t.RetryCount)+1),
	)
	return ctx, span
}

// endTaskSpan ends the task span.
func endTaskSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
