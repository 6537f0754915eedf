package statemachine

import (
	"context"
	"log/slog"
	"time"

	"github.com/amp-labs/denguebot/logger"
)

// Logger provides logging hooks for state machine execution.
type Logger interface {
	TransitionExecuted(ctx context.Context, from, to, trigger string)
	ActionStarted(ctx context.Context, action string)
	ActionCompleted(ctx context.Context, action string, duration time.Duration, err error)
	GuardFailed(ctx context.Context, guard string, err error)
	FireCompleted(ctx context.Context, trigger string, result Result, duration time.Duration, err error)
}

// ObservabilityLabels contains contextual labels for observability.
type ObservabilityLabels struct {
	UserID       string
	RequestID    string
	CurrentState string
	PathHistory  []string
}

// GetObservabilityLabels extracts observability labels from the context.
// Returns an empty ObservabilityLabels struct if no Context is found.
func GetObservabilityLabels(ctx context.Context) ObservabilityLabels {
	fc, hasCtx := ctx.Value(stateMachineContextKey).(*Context)
	if !hasCtx || fc == nil {
		return ObservabilityLabels{}
	}

	return ObservabilityLabels{
		UserID:       fc.UserID,
		RequestID:    fc.RequestID,
		CurrentState: fc.CurrentState(),
		PathHistory:  fc.PathHistory(),
	}
}

// DefaultLogger implements Logger on top of the context-aware slog logger.
type DefaultLogger struct {
	base *slog.Logger
}

// NewDefaultLogger creates a logger that resolves its slog.Logger from the
// context of each call.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{}
}

// NewSlogLogger creates a logger writing to a fixed slog.Logger.
func NewSlogLogger(base *slog.Logger) *DefaultLogger {
	return &DefaultLogger{base: base}
}

func (l *DefaultLogger) get(ctx context.Context) *slog.Logger {
	log := l.base
	if log == nil {
		log = logger.Get(ctx)
	}

	labels := GetObservabilityLabels(ctx)
	if labels.UserID != "" {
		log = log.With("user_id", labels.UserID, "state", labels.CurrentState)
	}

	if traceID, spanID := extractTraceContext(ctx); traceID != "" {
		log = log.With("trace_id", traceID, "span_id", spanID)
	}

	return log
}

func (l *DefaultLogger) TransitionExecuted(ctx context.Context, from, to, trigger string) {
	l.get(ctx).InfoContext(ctx, "Transition executed",
		"from", from,
		"to", to,
		"trigger", trigger,
	)
}

func (l *DefaultLogger) ActionStarted(ctx context.Context, action string) {
	l.get(ctx).DebugContext(ctx, "Action started",
		"action", action,
	)
}

func (l *DefaultLogger) ActionCompleted(ctx context.Context, action string, duration time.Duration, err error) {
	if err != nil {
		l.get(ctx).ErrorContext(ctx, "Action completed with error",
			"action", action,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
	} else {
		l.get(ctx).DebugContext(ctx, "Action completed",
			"action", action,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

func (l *DefaultLogger) GuardFailed(ctx context.Context, guard string, err error) {
	l.get(ctx).WarnContext(ctx, "Guard evaluation failed, treating as false",
		"guard", guard,
		"error", err,
	)
}

func (l *DefaultLogger) FireCompleted(
	ctx context.Context,
	trigger string,
	result Result,
	duration time.Duration,
	err error,
) {
	fields := []any{
		"trigger", trigger,
		"final_state", result.State,
		"fired", result.Fired,
		"hops", result.Hops,
		"path", result.Path,
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		l.get(ctx).ErrorContext(ctx, "Fire failed", append(fields, "error", err)...)

		return
	}

	l.get(ctx).InfoContext(ctx, "Fire completed", fields...)
}
