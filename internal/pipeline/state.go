// Package pipeline provides the per-session pipeline state machine,
// conversation context and timing metrics.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors for invalid state transitions.
var (
	ErrPipelineTerminal  = errors.New("pipeline is in a terminal stage")
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// Turn is one entry of the ordered conversation history.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics holds per-pipeline timing measurements. Latency fields are nil
// until the corresponding stage boundary has been crossed.
type Metrics struct {
	StartTime          time.Time      `json:"startTime"`
	AudioToASRLatency  *time.Duration `json:"audioToAsrLatencyMs"`
	ASRToLLMLatency    *time.Duration `json:"asrToLlmLatencyMs"`
	LLMToTTSLatency    *time.Duration `json:"llmToTtsLatencyMs"`
	TTSToClientLatency *time.Duration `json:"ttsToClientLatencyMs"`
	FirstTokenLatency  *time.Duration `json:"firstTokenLatencyMs"`
	TotalLatency       *time.Duration `json:"totalLatencyMs"`
	ASRPartialCount    int            `json:"asrPartialCount"`
	LLMTokenCount      int            `json:"llmTokenCount"`
	TTSChunkCount      int            `json:"ttsChunkCount"`
}

// StageHistoryEntry records one stage transition.
type StageHistoryEntry struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// RetrievalContext holds grounding material returned by the language-model
// service alongside the generated response.
type RetrievalContext struct {
	Sources   []string `json:"sources,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Grounding string   `json:"grounding,omitempty"`
}

// State is the per-session pipeline data model.
//
// Stage transitions:
//
//	IDLE → AUDIO_CAPTURE → ASR_PROCESSING → LLM_PROCESSING → TTS_SYNTHESIS → AUDIO_PLAYBACK → COMPLETED
//
// ERROR and INTERRUPTED are reachable from any non-terminal stage and are
// terminal. All mutations for one pipeline happen in the orchestrator's
// sequential callback chain, but those callbacks run on websocket-reader and
// stream-reader goroutines, so the state is mutex-guarded.
type State struct {
	mu sync.RWMutex

	id        string
	sessionID string
	userID    string
	stage     Stage

	history           []Turn
	partialTranscript string
	finalTranscript   string
	response          string
	retrieval         *RetrievalContext
	metadata          map[string]string

	metrics       Metrics
	stageHistory  []StageHistoryEntry
	lastBoundary  time.Time
	interrupted   bool
	errMessage    string
	firstTokenSet bool
}

// NewState creates a new pipeline state in the IDLE stage. The pipeline id
// is derived from the session id and creation time.
func NewState(sessionID, userID string) *State {
	now := time.Now()
	return &State{
		id:           fmt.Sprintf("%s-%d", sessionID, now.UnixNano()),
		sessionID:    sessionID,
		userID:       userID,
		stage:        StageIdle,
		metadata:     make(map[string]string),
		metrics:      Metrics{StartTime: now},
		lastBoundary: now,
	}
}

// ID returns the pipeline id.
func (s *State) ID() string {
	return s.id
}

// SessionID returns the owning session id.
func (s *State) SessionID() string {
	return s.sessionID
}

// UserID returns the owning user id.
func (s *State) UserID() string {
	return s.userID
}

// Stage returns the current stage.
func (s *State) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// CanProceed returns false iff the pipeline was interrupted or reached
// ERROR/COMPLETED. This is the sole cooperative-cancellation primitive:
// every asynchronous continuation checks it before doing further work.
func (s *State) CanProceed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.interrupted && s.stage != StageError && s.stage != StageCompleted
}

// TransitionTo advances the pipeline along a forward edge. It records a
// stage-history entry and stamps the latency metric keyed by the target
// stage: entering ASR_PROCESSING stamps audio→ASR as time since pipeline
// start, later stages stamp the delta since the previous boundary, and
// COMPLETED stamps total latency since pipeline start.
func (s *State) TransitionTo(target Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrPipelineTerminal, s.stage)
	}
	if !s.stage.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.stage, target)
	}

	now := time.Now()
	s.stageHistory = append(s.stageHistory, StageHistoryEntry{
		From:      s.stage,
		To:        target,
		Timestamp: now,
	})

	switch target {
	case StageASRProcessing:
		d := now.Sub(s.metrics.StartTime)
		s.metrics.AudioToASRLatency = &d
	case StageLLMProcessing:
		d := now.Sub(s.lastBoundary)
		s.metrics.ASRToLLMLatency = &d
	case StageTTSSynthesis:
		d := now.Sub(s.lastBoundary)
		s.metrics.LLMToTTSLatency = &d
	case StageAudioPlayback:
		d := now.Sub(s.lastBoundary)
		s.metrics.TTSToClientLatency = &d
	case StageCompleted:
		d := now.Sub(s.metrics.StartTime)
		s.metrics.TotalLatency = &d
	}

	s.stage = target
	s.lastBoundary = now
	return nil
}

// Interrupt sets the INTERRUPTED terminal stage. Safe to call from any
// stage; a no-op once the pipeline is terminal.
func (s *State) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.IsTerminal() {
		return false
	}
	s.stageHistory = append(s.stageHistory, StageHistoryEntry{
		From:      s.stage,
		To:        StageInterrupted,
		Timestamp: time.Now(),
	})
	s.stage = StageInterrupted
	s.interrupted = true
	return true
}

// SetError sets the ERROR terminal stage with a message. A no-op once the
// pipeline is terminal.
func (s *State) SetError(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.IsTerminal() {
		return false
	}
	s.stageHistory = append(s.stageHistory, StageHistoryEntry{
		From:      s.stage,
		To:        StageError,
		Timestamp: time.Now(),
	})
	s.stage = StageError
	if err != nil {
		s.errMessage = err.Error()
	}
	return true
}

// IsInterrupted returns true if the pipeline was interrupted.
func (s *State) IsInterrupted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interrupted
}

// MarkFirstToken records the time-to-first-token latency. Idempotent: only
// the first call after pipeline start records, later calls are no-ops, so
// the metric survives multi-chunk language-model output.
func (s *State) MarkFirstToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstTokenSet {
		return
	}
	d := time.Since(s.metrics.StartTime)
	s.metrics.FirstTokenLatency = &d
	s.firstTokenSet = true
}

// UpdateTranscript records a partial or final transcript. Partials also bump
// the partial counter.
func (s *State) UpdateTranscript(text string, isFinal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isFinal {
		s.finalTranscript = text
		s.partialTranscript = ""
	} else {
		s.partialTranscript = text
		s.metrics.ASRPartialCount++
	}
}

// AppendResponse appends a language-model content delta to the accumulated
// response and bumps the token counter.
func (s *State) AppendResponse(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response += delta
	s.metrics.LLMTokenCount++
}

// Response returns the accumulated response text.
func (s *State) Response() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.response
}

// FinalTranscript returns the final transcript, if recorded.
func (s *State) FinalTranscript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalTranscript
}

// AppendTurn appends a conversation turn to the history.
func (s *State) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Content: content, Timestamp: time.Now()})
}

// RecentTurns returns up to n most recent conversation turns.
func (s *State) RecentTurns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// SetRetrieval stores retrieval sources, citations and grounding metadata
// returned by the language-model service.
func (s *State) SetRetrieval(rc *RetrievalContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieval = rc
}

// SetMetadata stores a free-form metadata entry (intent, voice settings, ...).
func (s *State) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// CountTTSChunk bumps the synthesized-audio chunk counter.
func (s *State) CountTTSChunk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TTSChunkCount++
}

// Snapshot is an immutable projection of the pipeline state, safe to
// serialize for monitoring APIs.
type Snapshot struct {
	ID                string              `json:"pipelineId"`
	SessionID         string              `json:"sessionId"`
	UserID            string              `json:"userId"`
	Stage             string              `json:"stage"`
	Metrics           Metrics             `json:"metrics"`
	HistoryLen        int                 `json:"historyLength"`
	PartialTranscript string              `json:"partialTranscript,omitempty"`
	FinalTranscript   string              `json:"finalTranscript,omitempty"`
	ResponseLen       int                 `json:"responseLength"`
	Retrieval         *RetrievalContext   `json:"retrieval,omitempty"`
	IsInterrupted     bool                `json:"isInterrupted"`
	Error             string              `json:"error,omitempty"`
	StageHistory      []StageHistoryEntry `json:"stageHistory"`
}

// Snapshot returns an immutable projection of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := make([]StageHistoryEntry, len(s.stageHistory))
	copy(hist, s.stageHistory)

	var rc *RetrievalContext
	if s.retrieval != nil {
		c := *s.retrieval
		rc = &c
	}

	return Snapshot{
		ID:                s.id,
		SessionID:         s.sessionID,
		UserID:            s.userID,
		Stage:             s.stage.String(),
		Metrics:           s.metrics,
		HistoryLen:        len(s.history),
		PartialTranscript: s.partialTranscript,
		FinalTranscript:   s.finalTranscript,
		ResponseLen:       len(s.response),
		Retrieval:         rc,
		IsInterrupted:     s.interrupted,
		Error:             s.errMessage,
		StageHistory:      hist,
	}
}
