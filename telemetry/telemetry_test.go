package telemetry

import (
	"testing"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"OTEL_ENABLED",
		"OTEL_SERVICE_NAME",
		"OTEL_SERVICE_VERSION",
		"ENVIRONMENT",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT",
		"KUBERNETES_SERVICE_HOST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnv_GKEDetection(t *testing.T) { //nolint:paralleltest
	tests := []struct {
		name             string
		kubernetesHost   string
		customEndpoint   string
		expectedEndpoint string
	}{
		{
			name:             "GKE environment detected",
			kubernetesHost:   "10.0.0.1",
			expectedEndpoint: gkeCollectorEndpoint,
		},
		{
			name:             "Non-GKE environment",
			expectedEndpoint: "",
		},
		{
			name:             "Custom endpoint overrides GKE default",
			kubernetesHost:   "10.0.0.1",
			customEndpoint:   "http://custom-collector:4318",
			expectedEndpoint: "http://custom-collector:4318",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("KUBERNETES_SERVICE_HOST", test.kubernetesHost)
			t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", test.customEndpoint)

			config, err := LoadConfigFromEnv(t.Context(), "dev")
			require.NoError(t, err)

			assert.Equal(t, test.expectedEndpoint, config.Endpoint)
			assert.Equal(t, test.expectedEndpoint, config.LogsEndpoint)
		})
	}
}

func TestLoadConfigFromEnv_DefaultValues(t *testing.T) { //nolint:paralleltest
	clearEnv(t)

	ctx := logger.WithSubsystem(t.Context(), "denguebot")

	config, err := LoadConfigFromEnv(ctx, "test")
	require.NoError(t, err)

	assert.False(t, config.Enabled)
	assert.True(t, config.ExportLogs)
	assert.Equal(t, defaultServiceVersion, config.ServiceVersion)
	assert.Equal(t, "denguebot", config.ServiceName)
	assert.Equal(t, "test", config.Environment)
	assert.Equal(t, 5*time.Second, config.Timeout)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) { //nolint:paralleltest
	clearEnv(t)
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "http://logs:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_TIMEOUT", "2s")

	config, err := LoadConfigFromEnv(t.Context(), "test")
	require.NoError(t, err)

	assert.True(t, config.Enabled)
	assert.Equal(t, "prod", config.Environment)
	assert.Equal(t, "http://logs:4318", config.LogsEndpoint)
	assert.Equal(t, 2*time.Second, config.Timeout)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) { //nolint:paralleltest
	clearEnv(t)
	t.Setenv("OTEL_ENABLED", "maybe")

	_, err := LoadConfigFromEnv(t.Context(), "test")
	require.Error(t, err)
}

func TestInitializeDisabled(t *testing.T) { //nolint:paralleltest
	require.NoError(t, Initialize(t.Context(), &Config{Enabled: false}))
	assert.Nil(t, LogHandler())
	require.NoError(t, Shutdown(t.Context()))
}

func TestInitializeAndShutdown(t *testing.T) { //nolint:paralleltest
	config := &Config{
		ServiceName:  "denguebot",
		Enabled:      true,
		ExportLogs:   true,
		Endpoint:     "http://127.0.0.1:1",
		LogsEndpoint: "http://127.0.0.1:1",
		Timeout:      50 * time.Millisecond,
	}

	require.NoError(t, Initialize(t.Context(), config))
	assert.NotNil(t, LogHandler())

	// Nothing was recorded, so there is nothing to export.
	require.NoError(t, Shutdown(t.Context()))
	assert.Nil(t, LogHandler())
}
