package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fystack/eth-disburser/internal/disburser"
	"github.com/fystack/eth-disburser/pkg/common/logger"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type APIErrorResponse struct {
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusResponse struct {
	Status    string            `json:"status"`
	Running   bool              `json:"running"`
	Runs      int               `json:"runs"`
	LastError string            `json:"last_error,omitempty"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
	LastRun   *disburser.Report `json:"last_run,omitempty"`
}

// runState is shared between the scheduler and the HTTP handler.
type runState struct {
	mu        sync.RWMutex
	running   bool
	runs      int
	lastErr   error
	lastRun   *disburser.Report
	nextRunAt time.Time
}

func newRunState() *runState {
	return &runState{}
}

func (s *runState) started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *runState) finished(report *disburser.Report, err error, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	s.lastRun = report
	s.lastErr = err
	s.nextRunAt = next.UTC()
}

func (s *runState) snapshot() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		Status:  "idle",
		Running: s.running,
		Runs:    s.runs,
		LastRun: s.lastRun,
	}
	if !s.nextRunAt.IsZero() {
		next := s.nextRunAt
		resp.NextRunAt = &next
	}
	switch {
	case s.lastErr != nil:
		resp.Status = "failed"
		resp.LastError = s.lastErr.Error()
	case s.lastRun != nil && !s.lastRun.Success:
		resp.Status = "partial_error"
	case s.lastRun != nil:
		resp.Status = "ok"
	}
	return resp
}

type DisburserHTTPHandler struct {
	version string
	state   *runState
}

func NewDisburserHTTPHandler(version string, state *runState) *DisburserHTTPHandler {
	return &DisburserHTTPHandler{version: version, state: state}
}

func (h *DisburserHTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/status", h.HandleStatus)
}

func (h *DisburserHTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

func (h *DisburserHTTPHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.state.snapshot())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "status", statusCode, "err", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, APIErrorResponse{
		Status:    "error",
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
}
