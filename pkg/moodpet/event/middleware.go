package event

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoggingMiddleware logs event processing.
func LoggingMiddleware(logFn func(eventType, handlerName string, duration time.Duration, err error)) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) ([]Event, error) {
			start := time.Now()
			result, err := next.Handle(ctx, evt)
			logFn(evt.Type(), handlerName(next), time.Since(start), err)
			return result, err
		})
	}
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) (result []Event, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &EventError{
						Event:   evt,
						Message: fmt.Sprintf("handler panic: %v", r),
					}
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// MetricsMiddleware records handler metrics.
func MetricsMiddleware(
	onComplete func(eventType string, duration time.Duration, err error),
) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) ([]Event, error) {
			start := time.Now()
			result, err := next.Handle(ctx, evt)
			if onComplete != nil {
				onComplete(evt.Type(), time.Since(start), err)
			}
			return result, err
		})
	}
}

// TracingMiddleware wraps handler execution in an OpenTelemetry span.
// The span carries the topic, partition key, and correlation ID so a
// request can be followed across agents.
func TracingMiddleware(tracerName string) MiddlewareFunc {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) ([]Event, error) {
			ctx, span := tracer.Start(ctx, "event.handle",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("event.type", evt.Type()),
					attribute.String("event.id", evt.ID()),
					attribute.String("event.key", evt.Key()),
					attribute.String("event.correlation_id", evt.CorrelationID()),
				),
			)
			defer span.End()

			result, err := next.Handle(ctx, evt)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		})
	}
}

// handlerName extracts a name for a handler (for logging/metrics).
func handlerName(h Handler) string {
	return fmt.Sprintf("%T", h)
}
