package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frameorchestrator/core/internal/backpressure"
	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/health"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
)

type fakeProber struct{ err error }

func (f fakeProber) Probe(ctx context.Context, endpoint string) error { return f.err }

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, circuit.DefaultConfig())
	mon := health.NewMonitor(reg, fakeProber{}, time.Hour, time.Hour)
	queueLen := func(ctx context.Context, stream string) (int64, error) { return 3, nil }
	srv := New(reg, mon, nil, nil, queueLen, nil)
	return srv, reg
}

func TestRegisterThenGet(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(registerRequest{ID: "p1", Capabilities: []string{"face_detection"}, Capacity: 4})
	req := httptest.NewRequest(http.MethodPost, "/processors/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/processors/p1", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	var info models.ProcessorInfo
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&info))
	require.Equal(t, "p1", info.ID)
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(registerRequest{ID: "p1", Capacity: 1})
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/processors/register", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "attempt %d", i)
	}
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(registerRequest{ID: "", Capacity: 1})
	req := httptest.NewRequest(http.MethodPost, "/processors/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownProcessor404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/processors/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregister(t *testing.T) {
	srv, reg := newTestServer(t)
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1", Capacity: 1}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/processors/p1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodDelete, "/processors/p1", nil))
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestListAndBacklogs(t *testing.T) {
	srv, reg := newTestServer(t)
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1", Capacity: 1, Queue: "frames:ready:p1"}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/processors", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/frames/backlogs", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	var depths map[string]int64
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&depths))
	require.Equal(t, int64(3), depths["p1"])
}

func TestControlPauseResumeStatus(t *testing.T) {
	reg := registry.New(nil, circuit.DefaultConfig())
	sink := &recordingSink{}
	bp := backpressure.New(reg, func(ctx context.Context, s string) (int64, error) { return 0, nil }, backpressure.DefaultConfig(), sink, nil, nil)
	srv := New(reg, nil, bp, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/pause", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status controlStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "paused", status.Mode)
	require.Equal(t, 0.0, status.Rate)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/control/status", nil))
	require.Equal(t, http.StatusOK, rec2.Code)

	rec3 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/control/resume", nil))
	require.Equal(t, http.StatusOK, rec3.Code)
}

type recordingSink struct{ rate float64 }

func (r *recordingSink) SetRate(rate float64) { r.rate = rate }

func TestLivenessReflectsHealth(t *testing.T) {
	srv, reg := newTestServer(t)
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1", Capacity: 1}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
