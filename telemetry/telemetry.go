// Package telemetry wires OpenTelemetry trace and log export over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceVersion = "1.0.0"
	gkeCollectorEndpoint  = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"
)

var (
	mut            sync.Mutex               //nolint:gochecknoglobals
	tracerProvider *sdktrace.TracerProvider //nolint:gochecknoglobals
	loggerProvider *sdklog.LoggerProvider   //nolint:gochecknoglobals
	serviceName    string                   //nolint:gochecknoglobals
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	ServiceName    string        `env:"OTEL_SERVICE_NAME"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"               envDefault:"1.0.0"`
	Environment    string        `env:"ENVIRONMENT"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	LogsEndpoint   string        `env:"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"`
	Enabled        bool          `env:"OTEL_ENABLED"                       envDefault:"false"`
	ExportLogs     bool          `env:"OTEL_LOGS_ENABLED"                  envDefault:"true"`
	Timeout        time.Duration `env:"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT"  envDefault:"5s"`
}

// LoadConfigFromEnv loads OpenTelemetry configuration from environment
// variables. runningEnv is used when ENVIRONMENT is unset.
func LoadConfigFromEnv(ctx context.Context, runningEnv string) (*Config, error) {
	config, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse telemetry environment: %w", err)
	}

	if config.ServiceName == "" {
		config.ServiceName = logger.GetSubsystem(ctx)
	}

	if config.Environment == "" {
		config.Environment = runningEnv
	}

	// Inside Kubernetes the cluster collector is the default destination.
	if config.Endpoint == "" && os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		config.Endpoint = gkeCollectorEndpoint
	}

	if config.LogsEndpoint == "" {
		config.LogsEndpoint = config.Endpoint
	}

	return &config, nil
}

// Initialize sets up OpenTelemetry tracing, and log export when enabled,
// with the given configuration.
func Initialize(ctx context.Context, config *Config) error {
	if !config.Enabled {
		slog.Info("OpenTelemetry is disabled")

		return nil
	}

	if config.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, tracing will be disabled")

		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(config.Endpoint),
		otlptracehttp.WithTimeout(config.Timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	var lp *sdklog.LoggerProvider

	if config.ExportLogs && config.LogsEndpoint != "" {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(config.LogsEndpoint),
			otlploghttp.WithTimeout(config.Timeout),
		)
		if err != nil {
			_ = tp.Shutdown(ctx)

			return fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}

		lp = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
	}

	mut.Lock()
	tracerProvider = tp
	loggerProvider = lp
	serviceName = config.ServiceName
	mut.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("OpenTelemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", config.Endpoint,
		"logs", lp != nil,
	)

	return nil
}

// LogHandler returns a slog handler that forwards records to the OTLP log
// exporter, or nil when log export is not running.
func LogHandler() slog.Handler {
	mut.Lock()
	defer mut.Unlock()

	if loggerProvider == nil {
		return nil
	}

	return otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(loggerProvider))
}

// Shutdown flushes and stops the providers started by Initialize.
func Shutdown(ctx context.Context) error {
	mut.Lock()
	tp, lp := tracerProvider, loggerProvider
	tracerProvider, loggerProvider = nil, nil
	mut.Unlock()

	var errs []error

	if lp != nil {
		errs = append(errs, lp.Shutdown(ctx))
	}

	if tp != nil {
		slog.Info("Shutting down OpenTelemetry tracer provider")

		errs = append(errs, tp.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
