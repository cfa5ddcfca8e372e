package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/orchestrator"
	"voice-pipeline-orchestrator/internal/pipeline"
)

// streamEventBuffer bounds the per-pipeline outbound queue. A client that
// stops reading loses events rather than stalling the pipeline.
const streamEventBuffer = 256

// wsMessage is one queued outbound websocket frame.
type wsMessage struct {
	msgType int
	payload []byte
}

// pipelineStream buffers pipeline events between callback invocation and
// the (possibly later-attached) audio websocket.
type pipelineStream struct {
	out  chan wsMessage
	once sync.Once
	done chan struct{}
}

func newPipelineStream() *pipelineStream {
	return &pipelineStream{
		out:  make(chan wsMessage, streamEventBuffer),
		done: make(chan struct{}),
	}
}

// push enqueues a frame, dropping it when the buffer is full or the stream
// is closed.
func (s *pipelineStream) push(msgType int, payload []byte) {
	select {
	case <-s.done:
	case s.out <- wsMessage{msgType: msgType, payload: payload}:
	default:
	}
}

func (s *pipelineStream) pushJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.push(websocket.TextMessage, payload)
}

func (s *pipelineStream) close() {
	s.once.Do(func() { close(s.done) })
}

// streamRegistry tracks the stream for every active pipeline.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*pipelineStream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*pipelineStream)}
}

func (r *streamRegistry) add(pipelineID string, s *pipelineStream) {
	r.mu.Lock()
	r.streams[pipelineID] = s
	r.mu.Unlock()
}

func (r *streamRegistry) get(pipelineID string) (*pipelineStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[pipelineID]
	return s, ok
}

func (r *streamRegistry) remove(pipelineID string) {
	r.mu.Lock()
	s := r.streams[pipelineID]
	delete(r.streams, pipelineID)
	r.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

type createPipelineRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// createPipelineResponse is the start response: the pipelineId/status/stage
// triple clients key on, plus the rest of the initial snapshot.
type createPipelineResponse struct {
	Status string `json:"status"`
	pipeline.Snapshot
}

// vadFrame is the JSON control frame clients send on the audio websocket.
type vadFrame struct {
	Type       string  `json:"type"` // "vad" | "interrupt"
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"durationMs"`
}

func (a *API) createPipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	// The callback set forwards every pipeline event onto the audio
	// websocket stream for this pipeline.
	stream := newPipelineStream()
	cbs := orchestrator.Callbacks{
		OnTranscriptPartial: func(id, text string) {
			stream.pushJSON(map[string]any{"type": "partialTranscript", "pipelineId": id, "text": text})
		},
		OnTranscriptFinal: func(id, text string) {
			stream.pushJSON(map[string]any{"type": "finalTranscript", "pipelineId": id, "text": text})
		},
		OnLLMChunk: func(id, content string) {
			stream.pushJSON(map[string]any{"type": "responseChunk", "pipelineId": id, "content": content})
		},
		OnTTSChunk: func(_ string, audio []byte) {
			stream.push(websocket.BinaryMessage, audio)
		},
		OnComplete: func(id string, snap pipeline.Snapshot) {
			stream.pushJSON(map[string]any{"type": "complete", "pipelineId": id, "snapshot": snap})
		},
		OnError: func(id string, err error) {
			stream.pushJSON(map[string]any{"type": "error", "pipelineId": id, "message": err.Error()})
		},
		OnInterrupt: func(id string) {
			stream.pushJSON(map[string]any{"type": "interrupted", "pipelineId": id})
		},
	}

	state, err := a.orch.StartPipeline(req.SessionID, req.UserID, cbs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.streams.add(state.ID(), stream)

	writeJSON(w, http.StatusCreated, createPipelineResponse{
		Status:   "started",
		Snapshot: state.Snapshot(),
	})
}

func (a *API) listPipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": a.orch.ListPipelines()})
}

func (a *API) getPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	state, ok := a.orch.GetPipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, state.Snapshot())
}

func (a *API) interruptPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	state, ok := a.orch.GetPipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	a.inter.ManualInterrupt(id, state.SessionID())
	writeJSON(w, http.StatusOK, state.Snapshot())
}

func (a *API) deletePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	snap, ok := a.orch.EndPipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	a.streams.remove(id)
	writeJSON(w, http.StatusOK, snap)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The control surface fronts trusted internal clients.
	CheckOrigin: func(*http.Request) bool { return true },
}

// audioStream is the bidirectional per-pipeline websocket: inbound binary
// frames are audio chunks, inbound text frames are VAD or interrupt
// control messages, and outbound frames carry transcripts, response chunks
// and synthesized audio.
func (a *API) audioStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	state, ok := a.orch.GetPipeline(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	stream, ok := a.streams.get(id)
	if !ok {
		writeError(w, http.StatusConflict, "pipeline has no stream")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	wsLogger := log.With().
		Str("component", "http").
		Str("pipelineId", id).
		Str("sessionId", state.SessionID()).
		Logger()
	wsLogger.Debug().Msg("Audio stream attached")

	// Writer: drain the pipeline's event queue onto the socket.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stream.done:
				return
			case msg := <-stream.out:
				if err := ws.WriteMessage(msg.msgType, msg.payload); err != nil {
					return
				}
			}
		}
	}()

	// Reader: forward audio and interruption signals.
	for {
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			a.orch.ProcessAudioChunk(id, payload)
		case websocket.TextMessage:
			var frame vadFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				wsLogger.Warn().Err(err).Msg("Malformed control frame, skipping")
				continue
			}
			switch frame.Type {
			case "vad":
				a.inter.HandleVAD(id, state.SessionID(), frame.Confidence, msDuration(frame.DurationMs))
			case "interrupt":
				a.inter.ManualInterrupt(id, state.SessionID())
			default:
				wsLogger.Warn().Str("type", frame.Type).Msg("Unknown control frame type")
			}
		}
	}

	stream.close()
	<-writerDone
	wsLogger.Debug().Msg("Audio stream detached")
}
