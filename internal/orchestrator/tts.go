package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/pipeline"
)

// ttsRequest is the body of POST /synthesize/stream.
type ttsRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// ttsChunkSize is the read size for the chunked synthesis stream.
const ttsChunkSize = 4096

// synthesizeSpeech streams synthesized audio for the accumulated response
// through the tts-service breaker, forwarding each chunk to the playback
// callback. When synthesis is unavailable the fallback completes the
// pipeline text-only: the client already holds the full response text from
// the language-model chunks.
func (o *Orchestrator) synthesizeSpeech(p *pipeline.State, cbs Callbacks) {
	if !p.CanProceed() {
		return
	}
	if err := p.TransitionTo(pipeline.StageTTSSynthesis); err != nil {
		log.Warn().
			Str("component", "tts").
			Str("pipelineId", p.ID()).
			Err(err).
			Msg("Cannot enter synthesis stage")
		return
	}

	br := o.breakers.GetBreaker(ServiceTTS)

	fn := func(ctx context.Context) error {
		return o.callTTSStream(ctx, p, cbs)
	}
	fallback := func(ctx context.Context) error {
		if !p.CanProceed() {
			return nil
		}
		log.Warn().
			Str("component", "tts").
			Str("pipelineId", p.ID()).
			Msg("Synthesis unavailable, completing text-only")
		o.metrics.BreakerFallbacks.WithLabelValues(ServiceTTS).Inc()
		p.SetMetadata("degraded", "tts")
		// Walk the remaining forward edges so completion latency is
		// still stamped.
		p.TransitionTo(pipeline.StageAudioPlayback)
		o.completePipeline(p)
		return nil
	}

	if err := br.Execute(context.Background(), fn, fallback); err != nil {
		o.failPipeline(p, err)
	}
}

// callTTSStream performs one streaming synthesis call. Request-level
// failures return an error so the breaker counts them; a mid-stream error
// after playback began marks the pipeline itself and is also surfaced to
// the breaker.
func (o *Orchestrator) callTTSStream(ctx context.Context, p *pipeline.State, cbs Callbacks) error {
	body, err := json.Marshal(ttsRequest{
		Text:  p.Response(),
		Voice: o.cfg.Voice,
		Speed: o.cfg.Speed,
	})
	if err != nil {
		return fmt.Errorf("marshal synthesis request: %w", err)
	}

	url := strings.TrimRight(o.cfg.TTSServiceURL, "/") + "/synthesize/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("synthesis request: unexpected status %d", resp.StatusCode)
	}

	if err := p.TransitionTo(pipeline.StageAudioPlayback); err != nil {
		return nil
	}

	buf := make([]byte, ttsChunkSize)
	for {
		if !p.CanProceed() {
			return nil
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.CountTTSChunk()
			o.metrics.TTSChunks.Inc()
			if cbs.OnTTSChunk != nil {
				cbs.OnTTSChunk(p.ID(), chunk)
			}
		}
		if err == io.EOF {
			o.completePipeline(p)
			return nil
		}
		if err != nil {
			streamErr := fmt.Errorf("synthesis stream: %w", err)
			o.failPipeline(p, streamErr)
			return streamErr
		}
	}
}
