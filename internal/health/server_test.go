package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return NewServer(0, Metrics{
		Mode:               "backfill",
		ProgramID:          "prog1",
		BatchSize:          1000,
		Concurrency:        10,
		RetryAttempts:      3,
		TargetTransactions: 25000,
	}, zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyEndpointGate(t *testing.T) {
	s := newTestServer()

	rec := get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.SetReady(false)
	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var m Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "backfill", m.Mode)
	assert.Equal(t, "prog1", m.ProgramID)
	assert.Equal(t, int64(25000), m.TargetTransactions)

	s.SetMode("realtime")
	rec = get(t, s, "/metrics")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "realtime", m.Mode)
}

func TestPrometheusEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/metrics/prometheus")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
