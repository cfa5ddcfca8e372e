// Package orchestrator coordinates the voice pipeline: it owns per-session
// pipeline state, drives stage transitions, streams through the external
// recognition, language-model and synthesis services, and protects
// downstream calls with circuit breakers.
package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/breaker"
	"voice-pipeline-orchestrator/internal/events"
	"voice-pipeline-orchestrator/internal/latency"
	"voice-pipeline-orchestrator/internal/models"
	"voice-pipeline-orchestrator/internal/observability/metrics"
	"voice-pipeline-orchestrator/internal/pipeline"
)

// Downstream service names used as circuit breaker keys. Breakers are
// shared across all pipelines: they protect the downstream service, not an
// individual session.
const (
	ServiceLLMRouter = "llm-router"
	ServiceTTS       = "tts-service"
	ServiceASR       = "asr-gateway"
)

// Config holds the orchestrator's downstream endpoints and call settings.
type Config struct {
	ASRGatewayURL string // websocket base (ws:// or wss://)
	LLMRouterURL  string // http base
	TTSServiceURL string // http base
	LanguageCode  string
	SampleRateHz  int
	Voice         string
	Speed         float64
	Temperature   float64
	MaxTokens     int
	// RequestTimeout bounds every downstream HTTP call so a hung
	// dependency cannot block a pipeline indefinitely. Wire it to the
	// end-to-end latency budget.
	RequestTimeout time.Duration
}

// Callbacks is the typed per-pipeline subscription record registered at
// StartPipeline. Nil members are simply not invoked.
type Callbacks struct {
	OnTranscriptPartial func(pipelineID, text string)
	OnTranscriptFinal   func(pipelineID, text string)
	OnLLMChunk          func(pipelineID, content string)
	OnTTSChunk          func(pipelineID string, audio []byte)
	OnComplete          func(pipelineID string, snap pipeline.Snapshot)
	OnError             func(pipelineID string, err error)
	OnInterrupt         func(pipelineID string)
}

// Orchestrator owns the map of active pipelines, one recognition
// connection per pipeline, and the breaker manager shared across all
// pipelines.
type Orchestrator struct {
	cfg       Config
	breakers  *breaker.Manager
	monitor   *latency.Monitor
	publisher *events.Publisher
	metrics   *metrics.Metrics

	httpClient *http.Client
	dialer     *websocket.Dialer

	mu        sync.Mutex
	pipelines map[string]*pipeline.State
	callbacks map[string]Callbacks
	conns     map[string]*asrConn
	finished  map[string]bool // guards one-shot terminal bookkeeping
}

// New creates an orchestrator.
func New(cfg Config, breakers *breaker.Manager, monitor *latency.Monitor, publisher *events.Publisher, m *metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		breakers:   breakers,
		monitor:    monitor,
		publisher:  publisher,
		metrics:    m,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		pipelines: make(map[string]*pipeline.State),
		callbacks: make(map[string]Callbacks),
		conns:     make(map[string]*asrConn),
		finished:  make(map[string]bool),
	}
}

// StartPipeline creates a pipeline for a session, registers its callback
// set and transitions it to AUDIO_CAPTURE. The returned state exposes the
// generated pipeline id.
func (o *Orchestrator) StartPipeline(sessionID, userID string, cbs Callbacks) (*pipeline.State, error) {
	state := pipeline.NewState(sessionID, userID)
	if err := state.TransitionTo(pipeline.StageAudioCapture); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.pipelines[state.ID()] = state
	o.callbacks[state.ID()] = cbs
	o.mu.Unlock()

	o.metrics.RecordPipelineStart()
	o.monitor.StartMonitoring(state.ID(), sessionID)

	log.Info().
		Str("component", "orchestrator").
		Str("pipelineId", state.ID()).
		Str("sessionId", sessionID).
		Str("userId", userID).
		Msg("Pipeline started")

	return state, nil
}

// PipelineExists reports whether a pipeline id is in the active map.
func (o *Orchestrator) PipelineExists(pipelineID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pipelines[pipelineID]
	return ok
}

// GetPipeline returns the state for an active pipeline.
func (o *Orchestrator) GetPipeline(pipelineID string) (*pipeline.State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[pipelineID]
	return p, ok
}

// ListPipelines returns snapshots of every active pipeline.
func (o *Orchestrator) ListPipelines() []pipeline.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]pipeline.Snapshot, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		out = append(out, p.Snapshot())
	}
	return out
}

// BreakerHealth exposes the per-service breaker view for dashboards.
func (o *Orchestrator) BreakerHealth() map[string]breaker.HealthStatus {
	return o.breakers.GetHealthStatus()
}

// ProcessAudioChunk forwards one audio chunk into the pipeline. Chunks for
// terminal pipelines are silently dropped: audio arriving after
// interruption or completion is expected, not exceptional. The first chunk
// opens the recognition connection and moves the pipeline to
// ASR_PROCESSING; connection errors set the pipeline to ERROR and are
// reported via the error callback rather than returned.
func (o *Orchestrator) ProcessAudioChunk(pipelineID string, audio []byte) {
	o.mu.Lock()
	p, ok := o.pipelines[pipelineID]
	conn := o.conns[pipelineID]
	o.mu.Unlock()

	if !ok {
		log.Debug().
			Str("component", "orchestrator").
			Str("pipelineId", pipelineID).
			Msg("Audio chunk for unknown pipeline, dropping")
		return
	}
	if !p.CanProceed() {
		return
	}

	o.metrics.RecordAudioChunk(len(audio))

	if p.Stage() == pipeline.StageAudioCapture {
		if err := p.TransitionTo(pipeline.StageASRProcessing); err != nil {
			// Another chunk raced us through the transition.
			o.mu.Lock()
			conn = o.conns[pipelineID]
			o.mu.Unlock()
		} else {
			c, err := o.openASRConnection(p)
			if err != nil {
				o.failPipeline(p, err)
				return
			}
			o.mu.Lock()
			o.conns[pipelineID] = c
			o.mu.Unlock()
			conn = c
		}
	}

	if conn == nil {
		return
	}
	if err := conn.sendAudio(audio); err != nil {
		o.failPipeline(p, err)
	}
}

// processFinalTranscript runs the LLM and synthesis stages for a final
// transcript. It executes on the recognition reader goroutine, which keeps
// all mutations for one pipeline on a single sequential chain.
func (o *Orchestrator) processFinalTranscript(p *pipeline.State, transcript string) {
	if !p.CanProceed() {
		return
	}

	p.UpdateTranscript(transcript, true)
	p.AppendTurn("user", transcript)
	o.metrics.ASRFinals.Inc()

	cbs := o.callbacksFor(p.ID())
	if cbs.OnTranscriptFinal != nil {
		cbs.OnTranscriptFinal(p.ID(), transcript)
	}

	if err := p.TransitionTo(pipeline.StageLLMProcessing); err != nil {
		log.Warn().
			Str("component", "orchestrator").
			Str("pipelineId", p.ID()).
			Err(err).
			Msg("Cannot enter LLM stage")
		return
	}

	o.streamLLMResponse(p, transcript)
}

// InterruptPipeline cancels a pipeline. Idempotent: a missing or already
// terminal pipeline is a no-op. The recognition connection is closed here;
// the language-model and synthesis loops self-terminate through their own
// CanProceed checks.
func (o *Orchestrator) InterruptPipeline(pipelineID string) {
	o.mu.Lock()
	p, ok := o.pipelines[pipelineID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if !p.Interrupt() {
		return
	}

	log.Info().
		Str("component", "orchestrator").
		Str("pipelineId", pipelineID).
		Msg("Pipeline interrupted")

	cbs := o.callbacksFor(pipelineID)
	if cbs.OnInterrupt != nil {
		cbs.OnInterrupt(pipelineID)
	}

	o.closeASRConnection(pipelineID, false)
	o.finishPipeline(p, "pipeline.interrupted")
}

// EndPipeline stops recognition, removes the pipeline from the active map
// and publishes a final snapshot.
func (o *Orchestrator) EndPipeline(pipelineID string) (pipeline.Snapshot, bool) {
	o.mu.Lock()
	p, ok := o.pipelines[pipelineID]
	o.mu.Unlock()
	if !ok {
		return pipeline.Snapshot{}, false
	}

	o.closeASRConnection(pipelineID, true)

	// A pipeline ended mid-flight still needs its terminal bookkeeping.
	if p.CanProceed() {
		p.Interrupt()
	}
	o.finishPipeline(p, "pipeline.ended")

	o.mu.Lock()
	delete(o.pipelines, pipelineID)
	delete(o.callbacks, pipelineID)
	delete(o.finished, pipelineID)
	o.mu.Unlock()

	snap := p.Snapshot()
	log.Info().
		Str("component", "orchestrator").
		Str("pipelineId", pipelineID).
		Str("stage", snap.Stage).
		Msg("Pipeline ended")
	return snap, true
}

// Shutdown abandons all in-memory pipelines: sockets are closed and maps
// cleared. No state is persisted.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.pipelines))
	for id := range o.pipelines {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.EndPipeline(id)
	}

	log.Info().
		Str("component", "orchestrator").
		Int("abandoned", len(ids)).
		Msg("Orchestrator shut down")
}

// HealthCheck probes every configured downstream with a short timeout and
// returns a per-service health map. It deliberately ignores breaker state:
// a breaker can be closed while the service is down, and vice versa during
// a half-open trial.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]bool {
	targets := map[string]string{
		ServiceASR:       httpBase(o.cfg.ASRGatewayURL),
		ServiceLLMRouter: o.cfg.LLMRouterURL,
		ServiceTTS:       o.cfg.TTSServiceURL,
	}

	client := &http.Client{Timeout: 2 * time.Second}
	out := make(map[string]bool, len(targets))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, base := range targets {
		wg.Add(1)
		go func(name, base string) {
			defer wg.Done()
			healthy := probeHealthz(ctx, client, base)
			o.metrics.RecordDownstreamHealth(name, healthy)
			mu.Lock()
			out[name] = healthy
			mu.Unlock()
		}(name, base)
	}
	wg.Wait()
	return out
}

func probeHealthz(ctx context.Context, client *http.Client, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// httpBase rewrites a websocket base URL to its HTTP equivalent for health
// probing.
func httpBase(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

// callbacksFor returns the callback set registered for a pipeline.
func (o *Orchestrator) callbacksFor(pipelineID string) Callbacks {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callbacks[pipelineID]
}

// failPipeline sets the pipeline ERROR state and emits the error event.
// Safe to call on an already-terminal pipeline.
func (o *Orchestrator) failPipeline(p *pipeline.State, err error) {
	if !p.SetError(err) {
		return
	}

	log.Error().
		Str("component", "orchestrator").
		Str("pipelineId", p.ID()).
		Err(err).
		Msg("Pipeline failed")

	cbs := o.callbacksFor(p.ID())
	if cbs.OnError != nil {
		cbs.OnError(p.ID(), err)
	}

	o.closeASRConnection(p.ID(), false)
	o.finishPipeline(p, "pipeline.error")
}

// completePipeline marks normal completion and emits the completion event.
func (o *Orchestrator) completePipeline(p *pipeline.State) {
	if err := p.TransitionTo(pipeline.StageCompleted); err != nil {
		return
	}

	snap := p.Snapshot()
	cbs := o.callbacksFor(p.ID())
	if cbs.OnComplete != nil {
		cbs.OnComplete(p.ID(), snap)
	}

	o.closeASRConnection(p.ID(), false)
	o.finishPipeline(p, "pipeline.completed")
}

// finishPipeline performs one-shot terminal bookkeeping: latency
// accounting, metrics and the lifecycle event. Repeated calls for the same
// pipeline are no-ops.
func (o *Orchestrator) finishPipeline(p *pipeline.State, eventType string) {
	o.mu.Lock()
	if o.finished[p.ID()] {
		o.mu.Unlock()
		return
	}
	o.finished[p.ID()] = true
	o.mu.Unlock()

	snap := p.Snapshot()
	o.monitor.StopMonitoring(snap)
	o.metrics.RecordPipelineEnd(snap.Stage)

	if o.publisher != nil {
		ev := models.PipelineLifecycle{
			EventType:  eventType,
			PipelineID: snap.ID,
			SessionID:  snap.SessionID,
			UserID:     snap.UserID,
			Timestamp:  time.Now().UnixMilli(),
			Snapshot:   snap,
		}
		if err := o.publisher.PublishLifecycle(context.Background(), snap.SessionID, ev); err != nil {
			log.Warn().Err(err).Str("pipelineId", snap.ID).Msg("Failed to publish lifecycle event")
		}
	}
}
