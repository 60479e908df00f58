package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line %q", line)
		out = append(out, entry)
	}
	return out
}

// TestLogger tests the basic logger functionality
func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatText)
	logger.SetLevel(DebugLevel)

	logger.Debug("Debug message", String("key", "value"))
	logger.Info("Info message", Int("count", 42))
	logger.Warn("Warning message", Bool("flag", true))
	logger.Error("Error message", ErrorField(errors.New("test error")))

	output := buf.String()

	for _, want := range []string{"Debug message", "Info message", "Warning message", "Error message", "key=value", "count=42", "flag=true"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output:\n%s", want, output)
		}
	}
}

// TestLogLevels tests log level filtering
func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)
	logger.SetLevel(WarnLevel)

	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warning message")
	logger.Error("Error message")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "Warning message", entries[0]["message"])
	assert.Equal(t, "error", entries[1]["level"])
	assert.Equal(t, WarnLevel, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

// TestWithFields tests field inheritance
func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, FormatJSON)

	logger := base.WithFields(Component("Session"), SessionID("s-1"))
	logger.Info("Test message", Method("tools/list"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Session", entries[0]["component"])
	assert.Equal(t, "s-1", entries[0]["session_id"])
	assert.Equal(t, "tools/list", entries[0]["method"])

	// the parent is unchanged
	buf.Reset()
	base.Info("plain")
	entries = decodeLines(t, &buf)
	_, ok := entries[0]["component"]
	assert.False(t, ok)
}

// TestWithContext tests context integration
func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)

	ctx := ContextWithRequestID(context.Background(), "test-request-123")
	logger.WithContext(ctx).Info("Test message")

	entries := decodeLines(t, &buf)
	assert.Equal(t, "test-request-123", entries[0]["request_id"])
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

// TestWithError tests error context integration
func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)

	mcpErr := mcperrors.InvalidFormat("root.uri", "http://x", "a file:// URI").
		WithContext(&mcperrors.Context{
			RequestID: "req-123",
			Method:    "roots/list",
			Component: "TestComponent",
			Operation: "TestOperation",
		})

	logger.WithError(mcpErr).Error("Operation failed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Contains(t, entry["error"], "invalid format")
	assert.Equal(t, float64(mcperrors.CodeValidationError), entry["error_code"])
	assert.Equal(t, "validation", entry["error_category"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "roots/list", entry["method"])
	assert.Equal(t, "TestComponent", entry["component"])
	assert.Equal(t, "TestOperation", entry["operation"])
}

func TestWithPlainError(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, FormatJSON).WithError(errors.New("plain")).Warn("failed")

	entries := decodeLines(t, &buf)
	assert.Equal(t, "plain", entries[0]["error"])
	_, ok := entries[0]["error_code"]
	assert.False(t, ok)
}

type stringerID string

func (s stringerID) String() string { return `"` + string(s) + `"` }

// TestFieldTypes tests different field types
func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)

	logger.Info("Test fields",
		String("string", "value"),
		Int("int", 42),
		Int64("int64", 1<<40),
		Bool("bool", true),
		Duration("duration", 5*time.Second),
		Time("time", time.Now()),
		Any("any", map[string]int{"a": 1, "b": 2}),
		ErrorField(errors.New("test error")),
		RequestID(stringerID("abc")),
		TaskID("t-9"),
	)

	entries := decodeLines(t, &buf)
	entry := entries[0]

	assert.Equal(t, "value", entry["string"])
	assert.Equal(t, float64(42), entry["int"])
	assert.Equal(t, float64(1<<40), entry["int64"])
	assert.Equal(t, true, entry["bool"])
	assert.Equal(t, "test error", entry["error"])
	assert.Equal(t, `"abc"`, entry["request_id"])
	assert.Equal(t, "t-9", entry["task_id"])

	if _, ok := entry["duration"].(float64); !ok {
		t.Error("Expected duration as number")
	}
	if _, ok := entry["time"].(string); !ok {
		t.Error("Expected time as string")
	}
	anyVal, ok := entry["any"].(map[string]interface{})
	require.True(t, ok, "Expected any field as map")
	assert.Equal(t, float64(1), anyVal["a"])
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("dropped")
	logger.WithFields(String("k", "v")).Info("dropped")
	assert.NotNil(t, Default())
}

func TestGlobalLogger(t *testing.T) {
	prev := Default()
	defer SetGlobalLogger(prev)

	var buf bytes.Buffer
	SetGlobalLogger(New(&buf, FormatJSON))
	Default().Info("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON)
	logger.SetLevel(DebugLevel)

	var seen string
	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		w.(http.Flusher).Flush()
	}))

	req := httptest.NewRequest(http.MethodPost, "/message", nil)
	req.Header.Set(RequestIDHeader, "incoming-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "incoming-1", seen)
	assert.Equal(t, "incoming-1", rec.Header().Get(RequestIDHeader))
	assert.True(t, rec.Flushed)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, float64(http.StatusAccepted), entries[1]["status"])
	assert.Equal(t, float64(2), entries[1]["bytes"])

	// a missing id is generated
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.NotEqual(t, "incoming-1", seen)
}
