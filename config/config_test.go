package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func required() map[string]string {
	return map[string]string{
		"LINE_CHANNEL_SECRET":       "secret",
		"LINE_CHANNEL_ACCESS_TOKEN": "token",
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(required())
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.LINE.ChannelSecret)
	assert.Equal(t, "https://api.line.me", cfg.LINE.Endpoint)
	assert.Equal(t, "denguebot.db", cfg.Storage.DatabasePath)
	assert.Empty(t, cfg.Storage.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.Storage.LockTTL)
	assert.Equal(t, 20*time.Second, cfg.Webhook.EventTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Webhook.Async)
	assert.Equal(t, 8, cfg.Webhook.Workers)
	assert.Equal(t, int64(1<<20), cfg.Webhook.MaxBodyBytes)
	assert.True(t, cfg.Machine.Watch)
	assert.Equal(t, 10, cfg.Machine.MaxHops)
}

func TestParseOverrides(t *testing.T) {
	t.Parallel()

	environ := required()
	environ["REDIS_URL"] = "redis://localhost:6379/1"
	environ["SESSION_TTL"] = "24h"
	environ["WEBHOOK_ASYNC"] = "true"
	environ["FSM_CONFIG"] = "/etc/denguebot/fsm.yaml"
	environ["MAX_HOPS"] = "4"

	cfg, err := Parse(environ)
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.Storage.SessionTTL)
	assert.True(t, cfg.Webhook.Async)
	assert.Equal(t, "/etc/denguebot/fsm.yaml", cfg.Machine.FSMPath)
	assert.Equal(t, 4, cfg.Machine.MaxHops)
}

func TestParseRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := Parse(map[string]string{"LINE_CHANNEL_SECRET": "secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINE_CHANNEL_ACCESS_TOKEN")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	environ := required()
	environ["SESSION_TTL"] = "-1s"
	environ["WEBHOOK_WORKERS"] = "0"

	_, err := Parse(environ)
	require.ErrorIs(t, err, ErrNegativeDuration)
	require.ErrorIs(t, err, ErrNonPositive)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "SESSION_TTL")
	assert.Contains(t, err.Error(), "WEBHOOK_WORKERS")
}

func TestValidateEventTimeoutWithRedis(t *testing.T) {
	t.Parallel()

	environ := required()
	environ["EVENT_TIMEOUT"] = "0"

	_, err := Parse(environ)
	require.NoError(t, err)

	environ["REDIS_URL"] = "redis://localhost:6379/1"

	_, err = Parse(environ)
	require.ErrorIs(t, err, ErrEventOutlivesLock)

	environ["EVENT_TIMEOUT"] = "30s"

	_, err = Parse(environ)
	require.ErrorIs(t, err, ErrEventOutlivesLock)
	assert.Contains(t, err.Error(), "SESSION_LOCK_TTL=30s")

	environ["SESSION_LOCK_TTL"] = "1m"

	cfg, err := Parse(environ)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Webhook.EventTimeout)
}

func TestLoadReadsDotEnv(t *testing.T) { //nolint:paralleltest // Mutates the process environment.
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"LINE_CHANNEL_SECRET=from-file\nLINE_CHANNEL_ACCESS_TOKEN=token\nADMIN_TOKEN=file-admin\n"), 0o600))

	t.Setenv("LINE_CHANNEL_SECRET", "from-env")
	t.Setenv("ADMIN_TOKEN", "")

	// Registered for restoration, then cleared so the file provides it.
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "")
	require.NoError(t, os.Unsetenv("LINE_CHANNEL_ACCESS_TOKEN"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LINE.ChannelSecret)
	assert.Equal(t, "token", cfg.LINE.AccessToken)

	// godotenv leaves variables that are set, even when empty.
	assert.Empty(t, cfg.HTTP.AdminToken)
}

func TestLoadWithoutDotEnv(t *testing.T) { //nolint:paralleltest // Mutates the process environment.
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "token")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
