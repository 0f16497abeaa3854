package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/studyup-loadgen/internal/application/metrics"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":   "studyup-loadgen",
		"run_id": s.deps.RunID,
		"endpoints": map[string]string{
			"health":     "/healthz",
			"metrics":    "/metrics",
			"stats":      "/stats",
			"population": "/population",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
		})
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Elapsed    string             `json:"elapsed"`
	Recorded   int64              `json:"recorded"`
	Dropped    int64              `json:"dropped"`
	Operations []metrics.Snapshot `json:"operations"`
	Total      metrics.Snapshot   `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Stats not configured")
		return
	}

	st := s.deps.Stats
	writeJSON(w, r, http.StatusOK, StatsResponse{
		Elapsed:    st.Elapsed().Round(time.Millisecond).String(),
		Recorded:   st.Recorded(),
		Dropped:    st.Dropped(),
		Operations: st.Snapshots(),
		Total:      st.Total(),
	})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Stats not configured")
		return
	}

	name := chi.URLParam(r, "name")
	snap, ok := s.deps.Stats.Snapshot(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "No events recorded for "+name)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// ══════════════════════════════════════════════════════════════════════════════
// POPULATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// PopulationResponse is the body of GET /population.
type PopulationResponse struct {
	Target  int `json:"target"`
	Active  int `json:"active"`
	Spawned int `json:"spawned"`
}

// PopulationRequest is the body of POST/PUT /population.
type PopulationRequest struct {
	Users *int `json:"users"`
}

func (s *Server) handleGetPopulation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Population == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Population control not configured")
		return
	}
	writeJSON(w, r, http.StatusOK, s.population())
}

func (s *Server) handleSetPopulation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Population == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Population control not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	var req PopulationRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Users == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", `Body must be {"users": <n>}`)
		return
	}

	if err := s.deps.Population.SetPopulation(*req.Users); err != nil {
		if errors.Is(err, shared.ErrConfiguration) {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_population", err.Error())
			return
		}
		s.logger.Error("failed to set population", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to set population")
		return
	}

	writeJSON(w, r, http.StatusOK, s.population())
}

func (s *Server) population() PopulationResponse {
	p := s.deps.Population
	return PopulationResponse{Target: p.Target(), Active: p.Active(), Spawned: p.Spawned()}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
