package server

import (
	"net/http"
	"strconv"
	"time"
)

const defaultHistoryPageSize = 20

// handleHealth reports service liveness and, when a probe is wired,
// driver reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"service":   "mailcycle",
		"timestamp": time.Now().UTC(),
	}
	if s.driverReady != nil {
		if err := s.driverReady(r.Context()); err != nil {
			body["driver"] = "unreachable"
			body["driver_error"] = err.Error()
		} else {
			body["driver"] = "ready"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleStatus returns the run state plus the most recent cycle record.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("load status", "error", err)
		writeError(w, http.StatusInternalServerError, "status_unavailable", "could not load engine status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCycles returns recent cycle records, newest first.
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("load cycle history", "error", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", "could not load cycle history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": records})
}

// handleLogs returns the most recent failed cycles.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	failures, err := s.engine.RecentFailures(r.Context(), defaultHistoryPageSize)
	if err != nil {
		s.logger.Error("load recent failures", "error", err)
		writeError(w, http.StatusInternalServerError, "logs_unavailable", "could not load recent failures")
		return
	}

	reasons := make([]string, 0, len(failures))
	for _, rec := range failures {
		reasons = append(reasons, rec.FailureReason)
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": reasons, "failures": failures})
}

// handleStart launches the background loop. Starting a running engine
// is a no-op that still reports the current state.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		s.logger.Error("start engine", "error", err)
		writeError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}

	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_unavailable", "engine started but status could not be loaded")
		return
	}
	s.logger.Info("automation started via API")
	writeJSON(w, http.StatusOK, map[string]any{"message": "automation started", "status": status})
}

// handleStop requests the loop to exit. The request context bounds how
// long the handler waits for the loop to land on a suspend point.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context()); err != nil {
		s.logger.Error("stop engine", "error", err)
		writeError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}

	status, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_unavailable", "engine stopped but status could not be loaded")
		return
	}
	s.logger.Info("automation stopped via API")
	writeJSON(w, http.StatusOK, map[string]any{"message": "automation stopped", "status": status})
}
