package entity

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScopeEntity = "runtime.entity"
	traceSpanCommit  = "runtime.entity.commit"

	traceAttrClass  = "entity.class"
	traceAttrStatus = "entity.status"
)

// Commit never yields (§5), so it traces against a background context
// rather than threading one through every caller.
func startCommitSpan(class string) trace.Span {
	_, span := otel.Tracer(traceScopeEntity).Start(context.Background(), traceSpanCommit,
		trace.WithAttributes(attribute.String(traceAttrClass, class)))
	return span
}

func endCommitSpan(span trace.Span, ok bool) {
	if ok {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(traceAttrStatus, "committed"))
	} else {
		span.SetStatus(codes.Error, "commit rejected")
		span.SetAttributes(attribute.String(traceAttrStatus, "rejected"))
	}
	span.End()
}
