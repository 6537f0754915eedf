//nolint:err113 // Test file uses errors.New() for creating test errors
package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateError_NilError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AnnotateError(nil, "key", "value"))
}

func TestAnnotateError_BasicAnnotation(t *testing.T) {
	t.Parallel()

	baseErr := errors.New("base error")
	annotated := AnnotateError(baseErr, "user_id", "U1", "count", 3)

	require.Error(t, annotated)
	assert.Equal(t, "base error", annotated.Error())
	require.ErrorIs(t, annotated, baseErr)

	attrs := ErrorAttrs(annotated)
	require.Len(t, attrs, 2)
	assert.Equal(t, "user_id", attrs[0].Key)
	assert.Equal(t, int64(3), attrs[1].Value.Any())
}

func TestErrorAttrs_Chained(t *testing.T) {
	t.Parallel()

	inner := AnnotateError(errors.New("db down"), "table", "reports")
	outer := AnnotateError(fmt.Errorf("save report: %w", inner), "user_id", "U1")

	attrs := ErrorAttrs(outer)
	require.Len(t, attrs, 2)
	assert.Equal(t, "user_id", attrs[0].Key)
	assert.Equal(t, "table", attrs[1].Key)

	assert.Empty(t, ErrorAttrs(errors.New("plain")))
}

func handleJSON(t *testing.T, args ...any) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	logger := slog.New(&slogErrorLogger{inner: slog.NewJSONHandler(&buf, nil)})
	logger.Error("failed", args...)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	return out
}

func TestSlogErrorLogger_AnnotatedError(t *testing.T) {
	t.Parallel()

	err := AnnotateError(errors.New("boom"), "state", "ask_hospital")

	out := handleJSON(t, "error", fmt.Errorf("handler: %w", err), "trigger", "advance")

	assert.Equal(t, "handler: boom", out["error"])
	assert.Equal(t, "ask_hospital", out["state"])
	assert.Equal(t, "advance", out["trigger"])
}

func TestSlogErrorLogger_PlainError(t *testing.T) {
	t.Parallel()

	out := handleJSON(t, "error", errors.New("plain"), "trigger", "advance")

	assert.Equal(t, "plain", out["error"])
	assert.Equal(t, "advance", out["trigger"])
}

func TestSlogErrorLogger_WithAttrsAndGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(&slogErrorLogger{inner: slog.NewJSONHandler(&buf, nil)}).
		With("service", "denguebot").
		WithGroup("fire")
	logger.Error("failed", "error", AnnotateError(errors.New("boom"), "hops", 2))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, "denguebot", out["service"])

	group, ok := out["fire"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", group["error"])
	assert.InDelta(t, 2, group["hops"], 0)
}
