package amqp

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

// startSpanFromContext opens a span named operationName as a child of
// whatever's already on ctx, the way the teacher's Message methods do
// around Complete/Abandon/DeadLetter -- spec §1 excludes a logging
// subsystem, not this kind of ambient request tracing.
func startSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operationName)
}
