package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestCORS(t *testing.T) {
	tests := []struct {
		name            string
		allowed         []string
		origin          string
		wantOrigin      string
		wantCredentials string
	}{
		{name: "explicit origin", allowed: []string{"https://app.example"}, origin: "https://app.example", wantOrigin: "https://app.example", wantCredentials: "true"},
		{name: "other origin", allowed: []string{"https://app.example"}, origin: "https://evil.example"},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://any.example", wantOrigin: "https://any.example"},
		{name: "default wildcard", origin: "https://any.example", wantOrigin: "https://any.example"},
		{name: "no origin header", allowed: []string{"*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusTeapot, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredentials, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	CORS([]string{"https://app.example"})(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	RequestLogger(logger)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	assert.Contains(t, buf.String(), `"path":"/api/sessions"`)
	assert.Contains(t, buf.String(), `"status":418`)
}

func TestMetrics_NilPassThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Metrics(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("user:jane"))
	assert.True(t, rl.Allow("user:jane"))
	assert.False(t, rl.Allow("user:jane"))
	assert.True(t, rl.Allow("user:bob"), "buckets are per caller")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("user:jane"), "one token per second at 60/min")
	assert.False(t, rl.Allow("user:jane"))

	now = now.Add(time.Hour)
	rl.Allow("user:carol")
	rl.mu.Lock()
	_, janeKept := rl.limiters["user:jane"]
	rl.mu.Unlock()
	assert.False(t, janeKept, "idle buckets are dropped")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Middleware(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?userId=jane", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	other.Header.Set("X-User-ID", "bob")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", callerKey(req))

	req = httptest.NewRequest(http.MethodGet, "/?userId=jane", nil)
	assert.Equal(t, "user:jane", callerKey(req))

	req.Header.Set("X-User-ID", "bob")
	assert.Equal(t, "user:bob", callerKey(req))
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns(nil))
	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example", "*"}))
	assert.Equal(t, []string{"a.example", "b.example:8443"}, originPatterns([]string{"https://a.example", "https://b.example:8443"}))
}
