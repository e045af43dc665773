package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/leadswipe/leadswipe-api/pkg/fn"

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// TracedStage wraps a stage with an OTel span. Errors are recorded on the
// span and passed through unchanged.
func TracedStage[In, Out any](name string, stage Stage[In, Out], attrs ...attribute.KeyValue) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		span.SetAttributes(attrs...)
		result := stage(ctx, in)
		if result.IsErr() {
			_, err := result.Unwrap()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}

// Run executes a func as a traced, single-use stage.
func Run[T any](ctx context.Context, name string, f func(context.Context) (T, error), attrs ...attribute.KeyValue) Result[T] {
	stage := Stage[struct{}, T](func(ctx context.Context, _ struct{}) Result[T] {
		return FromPair(f(ctx))
	})
	return TracedStage(name, stage, attrs...)(ctx, struct{}{})
}
