package statemachine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "statemachine"

// startFireSpan creates the root span for a Fire call.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startFireSpan(ctx context.Context, fc *Context, trigger string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine.fire")
	span.SetAttributes(attribute.String("trigger", trigger))

	if fc != nil {
		span.SetAttributes(
			attribute.String("user_id_hash", hashID(fc.UserID)),
			attribute.String("request_id", fc.RequestID),
			attribute.String("initial_state", fc.CurrentState()),
		)

		if fc.Event != nil {
			span.SetAttributes(attribute.String("event_kind", string(fc.Event.Kind)))
		}
	}

	return ctx, span
}

// startTransitionSpan creates a child span for one transition.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startTransitionSpan(
	ctx context.Context,
	from, to, trigger string,
	depth int,
) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "transition."+trigger)
	span.SetAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
		attribute.Int("depth", depth),
	)

	return ctx, span
}

// startActionSpan creates a child span for action execution.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startActionSpan(ctx context.Context, actionName, state string, phase Phase) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "action."+actionName)
	span.SetAttributes(
		attribute.String("action", actionName),
		attribute.String("state", state),
		attribute.String("phase", string(phase)),
	)

	return ctx, span
}

// hashID creates a short hash of an ID for span attributes (privacy).
func hashID(id string) string {
	if id == "" {
		return ""
	}

	h := sha256.Sum256([]byte(id))

	return hex.EncodeToString(h[:4])
}

// extractTraceContext extracts trace ID and span ID from context for logging.
func extractTraceContext(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()

		return spanCtx.TraceID().String(), spanCtx.SpanID().String()
	}

	return "", ""
}
