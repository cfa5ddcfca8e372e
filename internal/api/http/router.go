// Package http exposes the pipeline control surface: pipeline lifecycle,
// the per-pipeline audio websocket, latency monitoring and interruption
// analytics.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/interruption"
	"voice-pipeline-orchestrator/internal/latency"
	"voice-pipeline-orchestrator/internal/orchestrator"
)

// API wires the orchestration components into HTTP handlers.
type API struct {
	orch    *orchestrator.Orchestrator
	monitor *latency.Monitor
	inter   *interruption.Handler

	streams *streamRegistry
}

// NewAPI creates the API handler set.
func NewAPI(orch *orchestrator.Orchestrator, monitor *latency.Monitor, inter *interruption.Handler) *API {
	return &API{
		orch:    orch,
		monitor: monitor,
		inter:   inter,
		streams: newStreamRegistry(),
	}
}

// NewRouter constructs the HTTP router for the service.
func (a *API) NewRouter() http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/v1/health", a.getHealth)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", a.createPipeline)
			r.Get("/", a.listPipelines)
			r.Get("/{pipelineID}", a.getPipeline)
			r.Post("/{pipelineID}/interrupt", a.interruptPipeline)
			r.Delete("/{pipelineID}", a.deletePipeline)
			r.Get("/{pipelineID}/audio", a.audioStream)
		})
		r.Route("/latency", func(r chi.Router) {
			r.Get("/stats", a.getLatencyStats)
			r.Get("/violations", a.getLatencyViolations)
			r.Put("/thresholds", a.updateLatencyThresholds)
		})
		r.Get("/sessions/{sessionID}/interruptions", a.getSessionInterruptions)
	})

	return r
}

// requestLogger logs one line per request, excluding the audio websocket
// endpoint whose lifetime is the whole stream.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("component", "http").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// getHealth reports downstream probe results alongside breaker state. The
// two views are independent: a probe can pass while a breaker is still
// open, and vice versa.
func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	downstream := a.orch.HealthCheck(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"downstream": downstream,
		"breakers":   a.orch.BreakerHealth(),
	})
}

func (a *API) getLatencyStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.GetStats())
}

func (a *API) getLatencyViolations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": a.monitor.GetRecentViolations(limit),
	})
}

func (a *API) updateLatencyThresholds(w http.ResponseWriter, r *http.Request) {
	var update latency.ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid threshold update")
		return
	}
	applied := a.monitor.UpdateThresholds(update)
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": applied})
}

func (a *API) getSessionInterruptions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, a.inter.GetSessionStats(sessionID))
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
