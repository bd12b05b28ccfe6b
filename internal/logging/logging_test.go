package logging

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		require.NoError(t, err, "level=%q", tc.in)
		require.Equal(t, tc.want, got, "level=%q", tc.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("info", "xml", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "xml")
}

func TestNew_DebugOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(&buf, "error", "json", true)
	require.NoError(t, err)

	logger.Debug("visible")
	require.Contains(t, buf.String(), `"msg":"visible"`)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(&buf, "info", "text", false)
	require.NoError(t, err)

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, buf.String(), "path=/health")
	require.Contains(t, buf.String(), "status=418")
}
