// Package latency tracks pipeline latency against SLA thresholds. The
// monitor consumes pipeline snapshots at completion and records
// distributions and threshold violations; it never touches orchestration
// control flow.
package latency

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/observability/metrics"
	"voice-pipeline-orchestrator/internal/pipeline"
)

// Stage names used for violation reporting.
const (
	StageFirstToken  = "first-token"
	StageEndToEnd    = "end-to-end"
	StageAudioToASR  = "audio-to-asr"
	StageASRToLLM    = "asr-to-llm"
	StageLLMToTTS    = "llm-to-tts"
	StageTTSToClient = "tts-to-client"
)

// maxViolations caps the global violation ring buffer.
const maxViolations = 100

// Thresholds holds the millisecond budgets per measurement.
type Thresholds struct {
	FirstToken  time.Duration `json:"firstTokenMs"`
	AudioToASR  time.Duration `json:"audioToAsrMs"`
	ASRToLLM    time.Duration `json:"asrToLlmMs"`
	LLMToTTS    time.Duration `json:"llmToTtsMs"`
	TTSToClient time.Duration `json:"ttsToClientMs"`
	EndToEnd    time.Duration `json:"endToEndMs"`
}

// DefaultThresholds returns the default SLA budgets.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FirstToken:  500 * time.Millisecond,
		AudioToASR:  50 * time.Millisecond,
		ASRToLLM:    100 * time.Millisecond,
		LLMToTTS:    50 * time.Millisecond,
		TTSToClient: 100 * time.Millisecond,
		EndToEnd:    2000 * time.Millisecond,
	}
}

// ThresholdUpdate carries a partial threshold change; nil fields are left
// untouched.
type ThresholdUpdate struct {
	FirstToken  *time.Duration `json:"firstTokenMs"`
	AudioToASR  *time.Duration `json:"audioToAsrMs"`
	ASRToLLM    *time.Duration `json:"asrToLlmMs"`
	LLMToTTS    *time.Duration `json:"llmToTtsMs"`
	TTSToClient *time.Duration `json:"ttsToClientMs"`
	EndToEnd    *time.Duration `json:"endToEndMs"`
}

// Violation records one SLA breach.
type Violation struct {
	PipelineID string        `json:"pipelineId"`
	SessionID  string        `json:"sessionId"`
	Stage      string        `json:"stage"`
	Observed   time.Duration `json:"observedMs"`
	Threshold  time.Duration `json:"thresholdMs"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Distribution accumulates simple summary statistics for one measurement.
type Distribution struct {
	Count int           `json:"count"`
	Sum   time.Duration `json:"sumMs"`
	Min   time.Duration `json:"minMs"`
	Max   time.Duration `json:"maxMs"`
}

func (d *Distribution) observe(v time.Duration) {
	if d.Count == 0 || v < d.Min {
		d.Min = v
	}
	if v > d.Max {
		d.Max = v
	}
	d.Count++
	d.Sum += v
}

// Average returns the mean observed value, or 0 when empty.
func (d *Distribution) Average() time.Duration {
	if d.Count == 0 {
		return 0
	}
	return d.Sum / time.Duration(d.Count)
}

// Stats is the read-model returned by GetStats.
type Stats struct {
	ActivePipelines int                      `json:"activePipelines"`
	Completed       int                      `json:"completedPipelines"`
	Thresholds      Thresholds               `json:"thresholds"`
	EndToEnd        map[string]*Distribution `json:"endToEnd"` // keyed by completion status
	FirstToken      *Distribution            `json:"firstToken"`
	Stages          map[string]*Distribution `json:"stages"`
	ViolationCounts map[string]int           `json:"violationCounts"`
}

// ViolationCallback is invoked for every recorded violation, used for
// external alerting.
type ViolationCallback func(Violation)

// Monitor consumes pipeline snapshots and tracks latency SLAs. Thread-safe.
type Monitor struct {
	mu              sync.Mutex
	thresholds      Thresholds
	active          int
	completed       int
	endToEnd        map[string]*Distribution
	firstToken      Distribution
	stages          map[string]*Distribution
	violations      []Violation
	violationCounts map[string]int
	onViolation     ViolationCallback
	metrics         *metrics.Metrics
}

// NewMonitor creates a latency monitor with the given thresholds.
func NewMonitor(th Thresholds, m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Monitor{
		thresholds:      th,
		endToEnd:        make(map[string]*Distribution),
		stages:          make(map[string]*Distribution),
		violationCounts: make(map[string]int),
		metrics:         m,
	}
}

// SetViolationCallback registers the alerting callback.
func (m *Monitor) SetViolationCallback(cb ViolationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onViolation = cb
}

// StartMonitoring bumps the active-pipeline gauge. Pure bookkeeping.
func (m *Monitor) StartMonitoring(pipelineID, sessionID string) {
	m.mu.Lock()
	m.active++
	m.mu.Unlock()

	log.Debug().
		Str("component", "latency").
		Str("pipelineId", pipelineID).
		Str("sessionId", sessionID).
		Msg("Monitoring pipeline")
}

// StopMonitoring consumes the terminal snapshot of a pipeline: it records
// latency distributions and raises violations. A violation is recorded iff
// observed > threshold strictly; equality is compliant.
func (m *Monitor) StopMonitoring(snap pipeline.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
	m.completed++

	status := "other"
	if snap.Stage == pipeline.StageCompleted.String() {
		status = "completed"
	}

	if snap.Metrics.TotalLatency != nil {
		total := *snap.Metrics.TotalLatency
		dist, ok := m.endToEnd[status]
		if !ok {
			dist = &Distribution{}
			m.endToEnd[status] = dist
		}
		dist.observe(total)
		m.metrics.EndToEndLatency.WithLabelValues(status).Observe(total.Seconds())
		if total > m.thresholds.EndToEnd {
			m.recordViolation(snap, StageEndToEnd, total, m.thresholds.EndToEnd)
		}
	}

	// First-token latency is the single most important SLA: it determines
	// perceived responsiveness.
	if snap.Metrics.FirstTokenLatency != nil {
		ttft := *snap.Metrics.FirstTokenLatency
		m.firstToken.observe(ttft)
		m.metrics.FirstTokenLatency.Observe(ttft.Seconds())
		if ttft > m.thresholds.FirstToken {
			m.recordViolation(snap, StageFirstToken, ttft, m.thresholds.FirstToken)
		}
	}

	m.observeStage(StageAudioToASR, snap.Metrics.AudioToASRLatency, m.thresholds.AudioToASR)
	m.observeStage(StageASRToLLM, snap.Metrics.ASRToLLMLatency, m.thresholds.ASRToLLM)
	m.observeStage(StageLLMToTTS, snap.Metrics.LLMToTTSLatency, m.thresholds.LLMToTTS)
	m.observeStage(StageTTSToClient, snap.Metrics.TTSToClientLatency, m.thresholds.TTSToClient)
}

// observeStage records one inter-stage latency. Per-stage breaches bump the
// violation counter only, without a full alert object. Caller must hold m.mu.
func (m *Monitor) observeStage(stage string, observed *time.Duration, threshold time.Duration) {
	if observed == nil {
		return
	}
	dist, ok := m.stages[stage]
	if !ok {
		dist = &Distribution{}
		m.stages[stage] = dist
	}
	dist.observe(*observed)
	m.metrics.RecordStageLatency(stage, observed.Seconds())

	if *observed > threshold {
		m.violationCounts[stage]++
		m.metrics.RecordViolation(stage)
	}
}

// recordViolation appends a full alert to the capped ring buffer and emits
// it. Caller must hold m.mu.
func (m *Monitor) recordViolation(snap pipeline.Snapshot, stage string, observed, threshold time.Duration) {
	v := Violation{
		PipelineID: snap.ID,
		SessionID:  snap.SessionID,
		Stage:      stage,
		Observed:   observed,
		Threshold:  threshold,
		Timestamp:  time.Now(),
	}

	m.violations = append(m.violations, v)
	if len(m.violations) > maxViolations {
		m.violations = m.violations[len(m.violations)-maxViolations:]
	}
	m.violationCounts[stage]++
	m.metrics.RecordViolation(stage)

	log.Warn().
		Str("component", "latency").
		Str("pipelineId", v.PipelineID).
		Str("stage", stage).
		Dur("observed", observed).
		Dur("threshold", threshold).
		Msg("Latency SLA violation")

	if m.onViolation != nil {
		go m.onViolation(v)
	}
}

// GetStats returns a copy of the accumulated statistics.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	e2e := make(map[string]*Distribution, len(m.endToEnd))
	for k, v := range m.endToEnd {
		c := *v
		e2e[k] = &c
	}
	stages := make(map[string]*Distribution, len(m.stages))
	for k, v := range m.stages {
		c := *v
		stages[k] = &c
	}
	counts := make(map[string]int, len(m.violationCounts))
	for k, v := range m.violationCounts {
		counts[k] = v
	}
	ft := m.firstToken

	return Stats{
		ActivePipelines: m.active,
		Completed:       m.completed,
		Thresholds:      m.thresholds,
		EndToEnd:        e2e,
		FirstToken:      &ft,
		Stages:          stages,
		ViolationCounts: counts,
	}
}

// GetRecentViolations returns up to limit most recent violations, newest
// last.
func (m *Monitor) GetRecentViolations(limit int) []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.violations) {
		limit = len(m.violations)
	}
	out := make([]Violation, limit)
	copy(out, m.violations[len(m.violations)-limit:])
	return out
}

// UpdateThresholds applies a partial threshold update. Thresholds can be
// tuned live without restarting monitoring.
func (m *Monitor) UpdateThresholds(u ThresholdUpdate) Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.FirstToken != nil {
		m.thresholds.FirstToken = *u.FirstToken
	}
	if u.AudioToASR != nil {
		m.thresholds.AudioToASR = *u.AudioToASR
	}
	if u.ASRToLLM != nil {
		m.thresholds.ASRToLLM = *u.ASRToLLM
	}
	if u.LLMToTTS != nil {
		m.thresholds.LLMToTTS = *u.LLMToTTS
	}
	if u.TTSToClient != nil {
		m.thresholds.TTSToClient = *u.TTSToClient
	}
	if u.EndToEnd != nil {
		m.thresholds.EndToEnd = *u.EndToEnd
	}

	log.Info().
		Str("component", "latency").
		Interface("thresholds", m.thresholds).
		Msg("Latency thresholds updated")

	return m.thresholds
}
