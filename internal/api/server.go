// Package api implements the Control/Admin API (spec.md §4.8, C8/C7 in
// SPEC_FULL): processor CRUD, stats, backlogs, pause/resume/status,
// liveness, and a Prometheus /metrics endpoint. Adapted from the teacher's
// packages/adapters/telemetryhttp handlers — plain net/http with
// http.ServeMux method+path routing (no router library appears anywhere in
// the retrieved example pack) and the same MetricsHandler
// type-assertion pattern the teacher uses to unwrap a Prometheus-specific
// capability from the generic metrics.Provider interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/frameorchestrator/core/internal/backpressure"
	"github.com/frameorchestrator/core/internal/health"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
	"github.com/frameorchestrator/core/internal/stats"
	"github.com/frameorchestrator/core/internal/telemetry/metrics"
)

// Server exposes the Control/Admin HTTP surface over a Registry,
// Health Monitor, and Backpressure Controller.
type Server struct {
	reg      *registry.Registry
	health   *health.Monitor
	bp       *backpressure.Controller
	provider metrics.Provider
	queueLen backpressure.QueueLengthFunc
	tracker  *stats.Tracker
	mux      *http.ServeMux
}

// New builds a Server and registers every route from spec.md §4.8.
func New(reg *registry.Registry, healthMonitor *health.Monitor, bp *backpressure.Controller, provider metrics.Provider, queueLen backpressure.QueueLengthFunc, tracker *stats.Tracker) *Server {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if tracker == nil {
		tracker = stats.NewTracker(10 * time.Second)
	}
	s := &Server{reg: reg, health: healthMonitor, bp: bp, provider: provider, queueLen: queueLen, tracker: tracker, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /processors/register", s.handleRegister)
	s.mux.HandleFunc("DELETE /processors/{id}", s.handleUnregister)
	s.mux.HandleFunc("GET /processors", s.handleList)
	s.mux.HandleFunc("GET /processors/{id}", s.handleGet)
	s.mux.HandleFunc("GET /processors/{id}/health", s.handleProcessorHealth)
	s.mux.HandleFunc("GET /frames/stats", s.handleStats)
	s.mux.HandleFunc("GET /frames/backlogs", s.handleBacklogs)
	s.mux.HandleFunc("POST /control/pause", s.handlePause)
	s.mux.HandleFunc("POST /control/resume", s.handleResume)
	s.mux.HandleFunc("GET /control/status", s.handleControlStatus)
	s.mux.HandleFunc("GET /health", s.handleLiveness)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

type registerRequest struct {
	ID             string            `json:"id"`
	Capabilities   []string          `json:"capabilities"`
	Capacity       int               `json:"capacity"`
	Queue          string            `json:"queue"`
	HealthEndpoint string            `json:"health_endpoint"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation)
		return
	}
	if req.ID == "" || req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, models.ErrValidation)
		return
	}
	caps := make(map[string]bool, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps[c] = true
	}
	info := models.ProcessorInfo{
		ID:             req.ID,
		Capabilities:   caps,
		Capacity:       req.Capacity,
		Queue:          req.Queue,
		HealthEndpoint: req.HealthEndpoint,
		Metadata:       req.Metadata,
	}
	err := s.reg.Register(r.Context(), info)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, mustGet(s.reg, req.ID))
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func mustGet(reg *registry.Registry, id string) models.ProcessorInfo {
	info, _ := reg.Get(id)
	return info
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.reg.Unregister(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.reg.Get(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type processorHealthResponse struct {
	Health  models.Health       `json:"health"`
	Circuit models.CircuitState `json:"circuit"`
}

func (s *Server) handleProcessorHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.reg.Get(id); errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	resp := processorHealthResponse{}
	if s.health != nil {
		resp.Health = s.health.Health(id)
	}
	if br := s.reg.Circuit(id); br != nil {
		resp.Circuit = br.Snapshot(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	FPS              float64          `json:"fps"`
	ActiveProcessors int              `json:"active_processors"`
	Depths           map[string]int64 `json:"depths"`
	Pressure         string           `json:"pressure"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	infos := s.reg.List()
	depths := s.depths(r.Context(), infos)
	level := models.PressureNormal
	if s.bp != nil {
		level = s.bp.Level()
	}
	writeJSON(w, http.StatusOK, statsResponse{
		FPS:              s.tracker.Rate(time.Now()),
		ActiveProcessors: len(infos),
		Depths:           depths,
		Pressure:         string(level),
	})
}

func (s *Server) handleBacklogs(w http.ResponseWriter, r *http.Request) {
	infos := s.reg.List()
	writeJSON(w, http.StatusOK, s.depths(r.Context(), infos))
}

func (s *Server) depths(ctx context.Context, infos []models.ProcessorInfo) map[string]int64 {
	out := make(map[string]int64, len(infos))
	if s.queueLen == nil {
		return out
	}
	for _, info := range infos {
		if n, err := s.queueLen(ctx, info.Queue); err == nil {
			out[info.ID] = n
		}
	}
	return out
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.bp != nil {
		s.bp.Pause()
	}
	s.writeControlStatus(w)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.bp != nil {
		s.bp.Resume()
	}
	s.writeControlStatus(w)
}

func (s *Server) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	s.writeControlStatus(w)
}

type controlStatusResponse struct {
	Mode     string  `json:"mode"`
	Rate     float64 `json:"rate"`
	Pressure string  `json:"pressure"`
}

func (s *Server) writeControlStatus(w http.ResponseWriter) {
	if s.bp == nil {
		writeJSON(w, http.StatusOK, controlStatusResponse{Mode: "running", Rate: 1.0, Pressure: string(models.PressureNormal)})
		return
	}
	mode, rate, level := s.bp.Status()
	writeJSON(w, http.StatusOK, controlStatusResponse{Mode: mode, Rate: rate, Pressure: string(level)})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	overall := models.HealthUnknown
	if s.health != nil {
		overall = s.health.Rollup()
	}
	status := http.StatusOK
	if overall == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(overall)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if withHandler, ok := s.provider.(interface{ MetricsHandler() http.Handler }); ok {
		withHandler.MetricsHandler().ServeHTTP(w, r)
		return
	}
	http.Error(w, "metrics handler unavailable", http.StatusNotImplemented)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
