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
	"voice-pipeline-orchestrator/internal/sse"
)

// degradedResponse is served when the language-model service is
// unavailable. It still flows through synthesis so the user hears
// something instead of silence.
const degradedResponse = "I'm sorry, I'm having trouble processing your request right now. Please try again in a moment."

// llmMessage is one chat message in the completion request.
type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// llmRequest is the body of POST /complete/stream.
type llmRequest struct {
	Messages    []llmMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"maxTokens"`
}

// llmChunk is one decoded SSE data payload from the completion stream.
type llmChunk struct {
	Content   string   `json:"content"`
	Done      bool     `json:"done"`
	Sources   []string `json:"sources,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Grounding string   `json:"grounding,omitempty"`
}

// streamLLMResponse streams a completion for the final transcript through
// the llm-router breaker. Content deltas accumulate into the pipeline
// response; the terminal marker carries retrieval metadata. Whether the
// stream succeeded or the breaker served the degraded fallback, the
// response then proceeds to synthesis.
func (o *Orchestrator) streamLLMResponse(p *pipeline.State, query string) {
	br := o.breakers.GetBreaker(ServiceLLMRouter)
	cbs := o.callbacksFor(p.ID())

	fn := func(ctx context.Context) error {
		return o.callLLMStream(ctx, p, cbs, query)
	}
	fallback := func(ctx context.Context) error {
		if !p.CanProceed() {
			return nil
		}
		log.Warn().
			Str("component", "llm").
			Str("pipelineId", p.ID()).
			Msg("Serving degraded language-model response")
		o.metrics.BreakerFallbacks.WithLabelValues(ServiceLLMRouter).Inc()
		p.AppendResponse(degradedResponse)
		p.MarkFirstToken()
		p.SetMetadata("degraded", "llm")
		if cbs.OnLLMChunk != nil {
			cbs.OnLLMChunk(p.ID(), degradedResponse)
		}
		return nil
	}

	if err := br.Execute(context.Background(), fn, fallback); err != nil {
		o.failPipeline(p, err)
		return
	}

	if !p.CanProceed() {
		return
	}
	p.AppendTurn("assistant", p.Response())
	o.synthesizeSpeech(p, cbs)
}

// callLLMStream performs one streaming completion call. It returns an
// error for request-level failures (so the breaker counts them) and nil
// for a completed or interrupted stream.
func (o *Orchestrator) callLLMStream(ctx context.Context, p *pipeline.State, cbs Callbacks, query string) error {
	msgs := make([]llmMessage, 0, 6)
	// The new user turn was already appended to history, so the recent
	// window includes it.
	for _, turn := range p.RecentTurns(5) {
		msgs = append(msgs, llmMessage{Role: turn.Role, Content: turn.Content})
	}
	if len(msgs) == 0 {
		msgs = append(msgs, llmMessage{Role: "user", Content: query})
	}

	body, err := json.Marshal(llmRequest{
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimRight(o.cfg.LLMRouterURL, "/") + "/complete/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("completion request: unexpected status %d", resp.StatusCode)
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		if !p.CanProceed() {
			// Abandon the rest of the stream; closing the body tears
			// the connection down.
			return nil
		}

		ev, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("completion stream: %w", err)
		}

		var chunk llmChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			log.Warn().
				Str("component", "llm").
				Str("pipelineId", p.ID()).
				Err(err).
				Msg("Malformed completion chunk, skipping")
			continue
		}

		if chunk.Done {
			if chunk.Grounding != "" || len(chunk.Sources) > 0 || len(chunk.Citations) > 0 {
				p.SetRetrieval(&pipeline.RetrievalContext{
					Sources:   chunk.Sources,
					Citations: chunk.Citations,
					Grounding: chunk.Grounding,
				})
			}
			return nil
		}

		if chunk.Content == "" {
			continue
		}
		p.AppendResponse(chunk.Content)
		p.MarkFirstToken()
		o.metrics.LLMTokens.Inc()
		if cbs.OnLLMChunk != nil {
			cbs.OnLLMChunk(p.ID(), chunk.Content)
		}
	}
}
