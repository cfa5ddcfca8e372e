// Package interruption detects barge-in: voice-activity signals are gated
// by confidence, duration and a per-session cooldown before they cancel an
// in-flight pipeline.
package interruption

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/observability/metrics"
)

// Trigger identifies what caused an interruption.
const (
	TriggerVAD     = "vad"
	TriggerManual  = "manual"
	TriggerTimeout = "timeout"
)

// maxEventsPerSession caps retained interruption history per session.
// Purely for analytics; no correctness dependency.
const maxEventsPerSession = 10

// Orchestrator is the minimal surface the handler needs to cancel a
// pipeline. InterruptPipeline must be idempotent and safe to call on an
// already-terminal pipeline.
type Orchestrator interface {
	PipelineExists(pipelineID string) bool
	InterruptPipeline(pipelineID string)
}

// Config holds interruption gating parameters.
type Config struct {
	VADThreshold float64       // minimum confidence
	VADDuration  time.Duration // minimum sustained-voice duration
	Cooldown     time.Duration // post-interruption quiet period per session
}

// DefaultConfig returns the default gating parameters. The 150ms sustained
// duration is the hard real-time requirement.
func DefaultConfig() Config {
	return Config{
		VADThreshold: 0.7,
		VADDuration:  150 * time.Millisecond,
		Cooldown:     1000 * time.Millisecond,
	}
}

// Event records one accepted interruption.
type Event struct {
	PipelineID string    `json:"pipelineId"`
	SessionID  string    `json:"sessionId"`
	Timestamp  time.Time `json:"timestamp"`
	Trigger    string    `json:"trigger"`
	Confidence float64   `json:"confidence"`
}

// SessionStats summarizes interruption activity for one session.
type SessionStats struct {
	Total         int            `json:"total"`
	ByTrigger     map[string]int `json:"byTrigger"`
	AvgConfidence float64        `json:"avgConfidence"`
	Recent        []Event        `json:"recent"` // most recent 5, newest last
}

// EventCallback is invoked for every accepted interruption.
type EventCallback func(Event)

// Handler gates voice-activity signals and cancels pipelines through the
// orchestrator. Thread-safe.
type Handler struct {
	cfg  Config
	orch Orchestrator

	mu            sync.Mutex
	events        map[string][]Event   // per session, capped
	cooldownUntil map[string]time.Time // per session; replaced, never stacked
	onEvent       EventCallback

	metrics *metrics.Metrics
	now     func() time.Time // injectable for tests
}

// NewHandler creates an interruption handler bound to an orchestrator.
func NewHandler(cfg Config, orch Orchestrator, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		cfg:           cfg,
		orch:          orch,
		events:        make(map[string][]Event),
		cooldownUntil: make(map[string]time.Time),
		metrics:       m,
		now:           time.Now,
	}
}

// SetEventCallback registers the global interruption callback.
func (h *Handler) SetEventCallback(cb EventCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = cb
}

// HandleVAD processes a voice-activity signal. Signals for unknown
// pipelines are logged and dropped. Signals inside the session cooldown
// window are silently dropped regardless of gating. Otherwise the signal
// must clear both the confidence and the duration gate to trigger an
// interruption.
func (h *Handler) HandleVAD(pipelineID, sessionID string, confidence float64, duration time.Duration) {
	vadLogger := log.With().
		Str("component", "interruption").
		Str("pipelineId", pipelineID).
		Str("sessionId", sessionID).
		Float64("confidence", confidence).
		Dur("duration", duration).
		Logger()

	if !h.orch.PipelineExists(pipelineID) {
		vadLogger.Debug().Msg("VAD signal for unknown pipeline, ignoring")
		return
	}

	if h.inCooldown(sessionID) {
		h.metrics.RecordInterruptionDropped("cooldown")
		return
	}

	if confidence < h.cfg.VADThreshold {
		vadLogger.Debug().Float64("threshold", h.cfg.VADThreshold).Msg("VAD confidence below gate")
		h.metrics.RecordInterruptionDropped("confidence")
		return
	}
	if duration < h.cfg.VADDuration {
		vadLogger.Debug().Dur("required", h.cfg.VADDuration).Msg("VAD duration below gate")
		h.metrics.RecordInterruptionDropped("duration")
		return
	}

	h.triggerInterruption(pipelineID, sessionID, TriggerVAD, confidence)
}

// ManualInterrupt bypasses all gating, including the cooldown. Used for
// explicit user-initiated interruption such as a UI button.
func (h *Handler) ManualInterrupt(pipelineID, sessionID string) {
	h.triggerInterruption(pipelineID, sessionID, TriggerManual, 1.0)
}

// triggerInterruption records the event, cancels the pipeline, emits the
// event and restarts the session cooldown window.
func (h *Handler) triggerInterruption(pipelineID, sessionID, trigger string, confidence float64) {
	ev := Event{
		PipelineID: pipelineID,
		SessionID:  sessionID,
		Timestamp:  h.now(),
		Trigger:    trigger,
		Confidence: confidence,
	}

	h.mu.Lock()
	evs := append(h.events[sessionID], ev)
	if len(evs) > maxEventsPerSession {
		evs = evs[len(evs)-maxEventsPerSession:]
	}
	h.events[sessionID] = evs
	// Restart the cooldown window; a pre-existing window is replaced, not
	// stacked.
	h.cooldownUntil[sessionID] = ev.Timestamp.Add(h.cfg.Cooldown)
	cb := h.onEvent
	h.mu.Unlock()

	log.Info().
		Str("component", "interruption").
		Str("pipelineId", pipelineID).
		Str("sessionId", sessionID).
		Str("trigger", trigger).
		Float64("confidence", confidence).
		Msg("Pipeline interrupted")

	h.metrics.RecordInterruption(trigger)
	h.orch.InterruptPipeline(pipelineID)

	if cb != nil {
		cb(ev)
	}
}

// inCooldown reports whether the session is inside its quiet period.
func (h *Handler) inCooldown(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	until, ok := h.cooldownUntil[sessionID]
	return ok && h.now().Before(until)
}

// GetSessionStats returns interruption analytics for one session.
func (h *Handler) GetSessionStats(sessionID string) SessionStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	evs := h.events[sessionID]
	stats := SessionStats{
		Total:     len(evs),
		ByTrigger: make(map[string]int),
	}

	var confSum float64
	for _, ev := range evs {
		stats.ByTrigger[ev.Trigger]++
		confSum += ev.Confidence
	}
	if len(evs) > 0 {
		stats.AvgConfidence = confSum / float64(len(evs))
	}

	recent := 5
	if len(evs) < recent {
		recent = len(evs)
	}
	stats.Recent = make([]Event, recent)
	copy(stats.Recent, evs[len(evs)-recent:])

	return stats
}

// ClearSession drops retained state for a session. Called when the session
// ends.
func (h *Handler) ClearSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.events, sessionID)
	delete(h.cooldownUntil, sessionID)
}
