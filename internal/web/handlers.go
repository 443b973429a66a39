package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ecompipe/internal/core"
	"github.com/JonMunkholm/ecompipe/internal/logging"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// parseIntParam parses a positive integer query parameter, falling back to
// defaultVal and capping at maxVal.
func parseIntParam(r *http.Request, name string, defaultVal, maxVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return min(i, maxVal)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Pinger.Ping(ctx); err != nil {
			respondError(w, r, core.Transient("web.healthz", err), http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleListRuns returns the most recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultRunLimit, maxRunLimit)

	entries, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	runs := core.SummarizeRuns(entries)
	if runs == nil {
		runs = []core.RunSummary{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	entries, err := s.deps.Runs.RunLog(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if len(entries) == 0 {
		respondError(w, r, errRunNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, core.SummarizeRuns(entries)[0])
}

// handleTriggerRun starts a run and answers 202 with its ID, or 409 while
// another run holds the slot.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.deps.Trigger.Trigger(r.Context())
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	logging.FromContext(r.Context()).Info("run triggered", "run_id", runID)
	w.Header().Set("Location", "/api/runs/"+runID)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleLatestQuality(w http.ResponseWriter, r *http.Request) {
	latest, err := s.deps.Reports.Latest(r.Context())
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if latest == nil {
		respondError(w, r, errNoQualityReport, http.StatusNotFound)
		return
	}
	writeJSON(w, latest)
}
