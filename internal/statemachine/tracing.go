package statemachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScopeMachine    = "runtime.statemachine"
	traceSpanTransition  = "runtime.statemachine.transition"

	traceAttrMachineID = "statemachine.id"
	traceAttrFrom      = "statemachine.from"
	traceAttrTo        = "statemachine.to"
	traceAttrRejected  = "statemachine.rejected"
)

func startTransitionSpan(id, from, to string) trace.Span {
	_, span := otel.Tracer(traceScopeMachine).Start(context.Background(), traceSpanTransition,
		trace.WithAttributes(
			attribute.String(traceAttrMachineID, id),
			attribute.String(traceAttrFrom, from),
			attribute.String(traceAttrTo, to),
		))
	return span
}

func endTransitionSpan(span trace.Span, rejected bool) {
	span.SetAttributes(attribute.Bool(traceAttrRejected, rejected))
	if rejected {
		span.SetStatus(codes.Error, "transition rejected")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
