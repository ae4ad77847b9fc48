package live

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the engine's spans.
const TracerName = "github.com/Seednode/townhall/live"

// startSpan opens a span for a router operation on the router's tracer.
func (rt *Router) startSpan(ctx context.Context, op string, c *Conn) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("townhall.op", op),
	}
	if c != nil {
		attrs = append(attrs,
			attribute.String("townhall.connection_id", c.ID()),
			attribute.String("townhall.role", string(c.Role())),
			attribute.String("townhall.session_id", c.SessionID()),
		)
	}

	return rt.tracer.Start(ctx, "townhall."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// defaultTracer uses the global provider, which records nothing unless the
// binary installs one.
func defaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
