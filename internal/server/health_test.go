package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ash/internal/agent"
)

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestLivenessHandler(t *testing.T) {
	h := NewHealthChecker(nil)
	h.SetReady(false)

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, healthStatusOK, decodeHealth(t, rec).Status)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		dbErr      error
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{name: "healthy", ready: true, wantCode: http.StatusOK, wantStatus: healthStatusOK, wantDB: healthStatusOK},
		{name: "not ready", ready: false, wantCode: http.StatusServiceUnavailable, wantStatus: healthStatusNotReady, wantDB: healthStatusOK},
		{name: "db down", ready: true, dbErr: errors.New("database is locked"), wantCode: http.StatusServiceUnavailable, wantStatus: healthStatusNotReady, wantDB: "database is locked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(nil)
			h.SetReady(tt.ready)
			h.AddCheck("database", func(context.Context) error { return tt.dbErr })

			rec := httptest.NewRecorder()
			h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeHealth(t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantDB, resp.Checks["database"])
		})
	}
}

func TestReadinessHandler_ShuttingDown(t *testing.T) {
	sc, err := NewServerContext(context.Background(), Options{Orchestrator: agent.New(agent.Deps{})})
	require.NoError(t, err)
	require.NoError(t, sc.Shutdown())
	require.NoError(t, sc.Shutdown())
	assert.Error(t, sc.Context().Err())

	h := NewHealthChecker(sc)
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, healthStatusShuttingDown, decodeHealth(t, rec).Checks["shutdown"])
}

func TestRegisterHealthEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthChecker(nil).RegisterHealthEndpoints(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestNewServerContext(t *testing.T) {
	_, err := NewServerContext(context.Background(), Options{})
	assert.Error(t, err)

	sc, err := NewServerContext(context.Background(), Options{Orchestrator: agent.New(agent.Deps{})})
	require.NoError(t, err)
	assert.Equal(t, "default", sc.Account())
	assert.Nil(t, sc.Metrics())
	assert.Nil(t, sc.AuditLogger())
	assert.Nil(t, sc.Assistant())
	assert.NotNil(t, sc.Logger())
	assert.False(t, sc.IsShutdown())
}
