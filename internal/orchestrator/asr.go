package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/pipeline"
)

// asrControlFrame is the JSON control message sent to the recognition
// gateway. Audio itself travels as binary websocket messages.
type asrControlFrame struct {
	Action       string `json:"action"` // "start" | "stop" | "ping"
	LanguageCode string `json:"languageCode,omitempty"`
	SampleRate   int    `json:"sampleRate,omitempty"`
}

// asrResultFrame is one JSON message from the recognition gateway.
// Transcript frames also carry a timestamp, which we do not consume.
type asrResultFrame struct {
	Type       string  `json:"type"` // "transcript" | "status" | "error"
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"isFinal,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Status     string  `json:"status,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// asrConn wraps one websocket connection to the recognition gateway.
// gorilla/websocket allows a single concurrent writer, so writes are
// serialized with a mutex; reads happen only on the reader goroutine.
type asrConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func (c *asrConn) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteJSON(v)
}

func (c *asrConn) sendAudio(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, audio)
}

func (c *asrConn) isClosed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}

// close tears the connection down. With graceful=true a stop control frame
// is sent first so the gateway can flush a pending final transcript.
func (c *asrConn) close(graceful bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if graceful {
		c.ws.WriteJSON(asrControlFrame{Action: "stop"})
	}
	c.ws.Close()
}

// openASRConnection dials the recognition gateway for one pipeline, sends
// the start control frame and spawns the reader goroutine.
func (o *Orchestrator) openASRConnection(p *pipeline.State) (*asrConn, error) {
	url := strings.TrimRight(o.cfg.ASRGatewayURL, "/") + "/v1/recognize"
	ws, resp, err := o.dialer.Dial(url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial recognition gateway: %w", err)
	}

	conn := &asrConn{ws: ws}
	start := asrControlFrame{
		Action:       "start",
		LanguageCode: o.cfg.LanguageCode,
		SampleRate:   o.cfg.SampleRateHz,
	}
	if err := conn.sendJSON(start); err != nil {
		conn.close(false)
		return nil, fmt.Errorf("send recognition start frame: %w", err)
	}

	log.Debug().
		Str("component", "asr").
		Str("pipelineId", p.ID()).
		Str("url", url).
		Msg("Recognition connection opened")

	go o.readASRResults(p, conn)
	return conn, nil
}

// readASRResults is the per-pipeline recognition reader loop. It dispatches
// transcript frames into the pipeline; a final transcript synchronously
// runs the LLM and synthesis stages on this goroutine, which keeps every
// mutation of one pipeline on a single sequential chain.
func (o *Orchestrator) readASRResults(p *pipeline.State, conn *asrConn) {
	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if p.CanProceed() && !conn.isClosed() {
				o.failPipeline(p, fmt.Errorf("recognition stream: %w", err))
			}
			return
		}
		if !p.CanProceed() {
			return
		}

		var frame asrResultFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Warn().
				Str("component", "asr").
				Str("pipelineId", p.ID()).
				Err(err).
				Msg("Malformed recognition frame, skipping")
			continue
		}

		switch frame.Type {
		case "transcript":
			if frame.IsFinal {
				o.processFinalTranscript(p, frame.Transcript)
			} else {
				p.UpdateTranscript(frame.Transcript, false)
				o.metrics.ASRPartials.Inc()
				cbs := o.callbacksFor(p.ID())
				if cbs.OnTranscriptPartial != nil {
					cbs.OnTranscriptPartial(p.ID(), frame.Transcript)
				}
			}
		case "status":
			log.Debug().
				Str("component", "asr").
				Str("pipelineId", p.ID()).
				Str("status", frame.Status).
				Msg("Recognition status")
		case "error":
			o.failPipeline(p, fmt.Errorf("recognition error: %s", frame.Message))
			return
		default:
			log.Warn().
				Str("component", "asr").
				Str("pipelineId", p.ID()).
				Str("type", frame.Type).
				Msg("Unknown recognition frame type")
		}
	}
}

// closeASRConnection closes and forgets the recognition connection for a
// pipeline, if one is open.
func (o *Orchestrator) closeASRConnection(pipelineID string, graceful bool) {
	o.mu.Lock()
	conn := o.conns[pipelineID]
	delete(o.conns, pipelineID)
	o.mu.Unlock()

	if conn != nil {
		conn.close(graceful)
	}
}
