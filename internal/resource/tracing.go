package resource

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resource-orm/internal/ormerr"
)

func startOperationSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("resource-orm/resource")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// finishOperationSpan records the outcome. Caller errors (validation, missing
// rows, conflicts) are typed failures and leave the span status unset.
func finishOperationSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	outcome := "success"
	if err != nil {
		kind := ormerr.KindOf(err)
		span.SetAttributes(attribute.String("orm.error.kind", kind.String()))
		if kind == ormerr.KindUnexpected || kind == ormerr.KindInvalidConfiguration {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			outcome = "typed_failure"
		}
	}
	span.SetAttributes(attribute.String("orm.outcome", outcome))
	span.End()
}
