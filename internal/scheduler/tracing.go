package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScopeScheduler = "runtime.scheduler"
	traceSpanStep       = "runtime.scheduler.step"

	traceAttrEvent     = "scheduler.event"
	traceAttrDispatched = "scheduler.dispatched"
	traceAttrStatus    = "scheduler.status"
)

func startStepSpan(ctx context.Context, event string) (context.Context, trace.Span) {
	return otel.Tracer(traceScopeScheduler).Start(ctx, traceSpanStep,
		trace.WithAttributes(attribute.String(traceAttrEvent, event)))
}

func endStepSpan(span trace.Span, dispatched int, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int(traceAttrDispatched, dispatched))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(traceAttrStatus, "ok"))
	}
	span.End()
}
