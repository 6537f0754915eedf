package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amp-labs/denguebot/shutdown"
	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/trace"
)

// Used for tagging every log line with the part of the system that wrote it.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex protects concurrent calls to ConfigureLoggingWithOptions.
// This is necessary because the function modifies global state (slog.SetDefault and log.Default).
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

// Fatal logs an error message and exits the application.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)

	shutdown.Shutdown()

	time.Sleep(time.Second)

	os.Exit(1)
}

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer

	// Handlers receive every record in addition to the console handler,
	// for example an OpenTelemetry log bridge.
	Handlers []slog.Handler
}

// ConfigureLoggingWithOptions configures logging for the application.
// It returns the default logger.
// This function is thread-safe but modifies global state, so concurrent calls
// will be serialized.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	var handler slog.Handler

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	} else {
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	}

	if len(opts.Handlers) > 0 {
		handler = newFanoutHandler(append([]slog.Handler{handler}, opts.Handlers...)...)
	}

	handler = &slogErrorLogger{inner: handler}

	logger := slog.New(handler)

	slog.SetDefault(logger)

	// Third party packages may still use the standard log package; route it
	// through slog at a fixed level.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, opts.LegacyLevel)

	subsystem.Store(opts.Subsystem)

	return logger
}

// Option is a functional option for configuring logging via ConfigureLogging.
type Option func(*Options)

// WithHandlers adds handlers that receive every record alongside the console output.
func WithHandlers(handlers ...slog.Handler) Option {
	return func(o *Options) {
		o.Handlers = append(o.Handlers, handlers...)
	}
}

// WithOutput overrides the output writer.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// ErrInvalidLogOutput is returned when an invalid log output destination is specified.
var ErrInvalidLogOutput = errors.New("invalid log output")

// EnvConfig is the logging configuration read from the environment.
type EnvConfig struct {
	JSON        bool       `env:"LOG_JSON"         envDefault:"false"`
	Level       slog.Level `env:"LOG_LEVEL"        envDefault:"INFO"`
	LegacyLevel slog.Level `env:"LEGACY_LOG_LEVEL" envDefault:"INFO"`
	Output      string     `env:"LOG_OUTPUT"       envDefault:"stdout"`
}

// LoadEnvConfig reads the logging configuration from the environment.
func LoadEnvConfig() (EnvConfig, error) {
	cfg, err := env.ParseAs[EnvConfig]()
	if err != nil {
		return EnvConfig{}, fmt.Errorf("failed to parse logging environment: %w", err)
	}

	return cfg, nil
}

func (c EnvConfig) writer() (io.Writer, error) {
	switch c.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogOutput, c.Output)
	}
}

// ConfigureLogging configures logging for the application from the
// environment. It returns the default logger.
func ConfigureLogging(app string, opts ...Option) (*slog.Logger, error) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		return nil, err
	}

	output, err := cfg.writer()
	if err != nil {
		return nil, err
	}

	options := Options{
		Subsystem:   app,
		JSON:        cfg.JSON,
		MinLevel:    cfg.Level,
		LegacyLevel: cfg.LegacyLevel,
		Output:      output,
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options), nil
}

// WithMuted adds a muted flag to the context. When muted is true, all logging
// operations on this context will be suppressed. This is useful for silencing
// health checks and metrics scrapes.
func WithMuted(ctx context.Context, muted bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("mute"), muted)
}

func isMuted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	muted, ok := ctx.Value(contextKey("mute")).(bool)

	return ok && muted
}

// WithSensitive marks the context as sensitive. Loggers derived from it
// omit the user ID.
func WithSensitive(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("sensitive"), true)
}

// IsSensitiveMessage returns true if the context is marked as sensitive.
func IsSensitiveMessage(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	sensitive, ok := ctx.Value(contextKey("sensitive")).(bool)

	return ok && sensitive
}

// WithUserId adds a chat user ID to the context.
func WithUserId(ctx context.Context, userId string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("user_id"), userId)
}

// GetUserId returns the chat user ID from the context, if any.
func GetUserId(ctx context.Context) (string, bool) { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	uid, ok := ctx.Value(contextKey("user_id")).(string)

	return uid, ok
}

// WithSubsystem adds a subsystem to the context. If the subsystem is not provided, the default subsystem
// will be used. The default subsystem is set by the ConfigureLogging function.
func WithSubsystem(ctx context.Context, subsystem string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("subsystem"), subsystem)
}

// GetSubsystem returns the subsystem from the context. If the
// subsystem is not provided, the default subsystem will be used.
func GetSubsystem(ctx context.Context) string { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	if val, ok := ctx.Value(contextKey("subsystem")).(string); ok {
		return val
	}

	if defaultSub := subsystem.Load(); defaultSub != nil {
		if val, ok := defaultSub.(string); ok {
			return val
		}
	}

	return ""
}

// WithRequestId adds a request ID to the context.
func WithRequestId(ctx context.Context, requestId string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("request_id"), requestId)
}

// GetRequestId returns the request ID from the context. If the request ID is not provided,
// an empty string will be returned, along with a false value.
func GetRequestId(ctx context.Context) (string, bool) { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	val, ok := ctx.Value(contextKey("request_id")).(string)

	return val, ok
}

// hostname holds the pod name in a k8s deployment and the machine name locally.
var hostname = sync.OnceValue(func() string { //nolint:gochecknoglobals
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}

	return h
})

// GetPodName returns the pod name (or hostname if not running in k8s).
func GetPodName() string {
	return hostname()
}

// getRealContext extracts the first non-nil context from a variadic list.
func getRealContext(ctx ...context.Context) context.Context {
	for _, c := range ctx {
		if c != nil {
			return c
		}
	}

	return context.Background()
}

// nullHandler discards all log output. It backs muted contexts.
type nullHandler struct{}

func (n *nullHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (n *nullHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (n *nullHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return n
}

func (n *nullHandler) WithGroup(_ string) slog.Handler {
	return n
}

var nullLogger = slog.New(&nullHandler{}) //nolint:gochecknoglobals

func getBaseLogger(ctx context.Context) *slog.Logger {
	if isMuted(ctx) {
		return nullLogger
	}

	logger := slog.Default().With(
		"subsystem", GetSubsystem(ctx),
		"pod", GetPodName())

	if requestId, found := GetRequestId(ctx); found {
		logger = logger.With("request-id", requestId)
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	if vals := getValues(ctx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}

// Get returns a logger carrying the subsystem, request, trace and user
// identifiers found in the context. The user ID is left out when the
// context is marked sensitive.
//
//nolint:contextcheck
func Get(ctx ...context.Context) *slog.Logger {
	realCtx := getRealContext(ctx...)
	logger := getBaseLogger(realCtx)

	if IsSensitiveMessage(realCtx) {
		return logger
	}

	if userId, ok := GetUserId(realCtx); ok {
		logger = logger.With("user_id", userId)
	}

	return logger
}

// With returns a new context with the given values added.
// The values are added to the logger automatically.
func With(ctx context.Context, values ...any) context.Context {
	if len(values) == 0 && ctx != nil {
		return ctx
	}

	if ctx == nil {
		ctx = context.Background()
	}

	existing := getValues(ctx)
	vals := make([]any, 0, len(existing)+len(values))
	vals = append(vals, existing...)
	vals = append(vals, values...)

	return context.WithValue(ctx, contextKey("loggerValues"), vals)
}

func getValues(ctx context.Context) []any { //nolint:contextcheck
	if ctx == nil {
		return nil
	}

	vals, _ := ctx.Value(contextKey("loggerValues")).([]any)

	return vals
}
