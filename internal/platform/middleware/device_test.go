package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/requestcontext"
)

const (
	chromeOnWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxOnLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	googlebot       = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestParseDevice(t *testing.T) {
	t.Run("desktop browser", func(t *testing.T) {
		d := ParseDevice(chromeOnWindows)
		assert.True(t, strings.HasPrefix(d.Browser, "Chrome"), d.Browser)
		assert.Contains(t, d.OS, "Windows")
		assert.False(t, d.Mobile)
		assert.False(t, d.Bot)
	})

	t.Run("firefox", func(t *testing.T) {
		d := ParseDevice(firefoxOnLinux)
		assert.True(t, strings.HasPrefix(d.Browser, "Firefox"), d.Browser)
		assert.Contains(t, d.OS, "Linux")
	})

	t.Run("crawler", func(t *testing.T) {
		assert.True(t, ParseDevice(googlebot).Bot)
	})

	t.Run("empty header", func(t *testing.T) {
		assert.Equal(t, Device{}, ParseDevice(""))
	})
}

func TestDeviceFromContext(t *testing.T) {
	ctx := requestcontext.WithClientMetadata(context.Background(), "10.0.0.1", firefoxOnLinux)
	assert.Equal(t, ParseDevice(firefoxOnLinux), DeviceFromContext(ctx))
	assert.Equal(t, Device{}, DeviceFromContext(context.Background()))
}

func TestLoggerRecordsClientAndRequestTime(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	started := time.Now().Add(-1500 * time.Millisecond)

	inner := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), started)))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("User-Agent", chromeOnWindows)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, chromeOnWindows, line["user_agent"])
	assert.True(t, strings.HasPrefix(line["browser"].(string), "Chrome"))
	assert.Contains(t, line["os"], "Windows")
	assert.GreaterOrEqual(t, line["duration_ms"].(float64), float64(1500), "duration counts from the captured request time")
}
