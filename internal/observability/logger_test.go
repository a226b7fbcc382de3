package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_WritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf)

	logger.Warn("rate_limit_exceeded", map[string]any{"action": "SEARCH"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "rate_limit_exceeded", entries[0]["message"])
	assert.Equal(t, "SEARCH", entries[0]["action"])
	assert.NotEmpty(t, entries[0]["timestamp"])
}

func TestLogger_WithAddsStaticFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerTo(&buf)
	scoped := base.With(map[string]any{"component": "audit"})

	scoped.Info("first", map[string]any{"component": "override"})
	scoped.Error("second", nil)
	base.Info("third", nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "override", entries[0]["component"])
	assert.Equal(t, "audit", entries[1]["component"])
	assert.NotContains(t, entries[2], "component")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	assert.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	// A client-supplied first hop does not change the identity.
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.9 ")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.1,")
	assert.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientIP(req))

	req.RemoteAddr = ""
	assert.Equal(t, "anonymous", ClientIP(req))
}

func TestRecoverMiddleware_Returns500(t *testing.T) {
	var buf bytes.Buffer
	handler := RecoverMiddleware(NewLoggerTo(&buf), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hoas/search", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "boom")
}
