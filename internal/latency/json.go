package latency

import (
	"encoding/json"
	"time"
)

// The API reports latencies in milliseconds; these marshalers keep the
// wire format aligned with the field tags.

// MarshalJSON renders thresholds in milliseconds.
func (t Thresholds) MarshalJSON() ([]byte, error) {
	type wire struct {
		FirstToken  int64 `json:"firstTokenMs"`
		AudioToASR  int64 `json:"audioToAsrMs"`
		ASRToLLM    int64 `json:"asrToLlmMs"`
		LLMToTTS    int64 `json:"llmToTtsMs"`
		TTSToClient int64 `json:"ttsToClientMs"`
		EndToEnd    int64 `json:"endToEndMs"`
	}
	return json.Marshal(wire{
		FirstToken:  t.FirstToken.Milliseconds(),
		AudioToASR:  t.AudioToASR.Milliseconds(),
		ASRToLLM:    t.ASRToLLM.Milliseconds(),
		LLMToTTS:    t.LLMToTTS.Milliseconds(),
		TTSToClient: t.TTSToClient.Milliseconds(),
		EndToEnd:    t.EndToEnd.Milliseconds(),
	})
}

// UnmarshalJSON accepts a partial millisecond-valued update.
func (u *ThresholdUpdate) UnmarshalJSON(data []byte) error {
	type wire struct {
		FirstToken  *int64 `json:"firstTokenMs"`
		AudioToASR  *int64 `json:"audioToAsrMs"`
		ASRToLLM    *int64 `json:"asrToLlmMs"`
		LLMToTTS    *int64 `json:"llmToTtsMs"`
		TTSToClient *int64 `json:"ttsToClientMs"`
		EndToEnd    *int64 `json:"endToEndMs"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	conv := func(ms *int64) *time.Duration {
		if ms == nil {
			return nil
		}
		d := time.Duration(*ms) * time.Millisecond
		return &d
	}
	u.FirstToken = conv(w.FirstToken)
	u.AudioToASR = conv(w.AudioToASR)
	u.ASRToLLM = conv(w.ASRToLLM)
	u.LLMToTTS = conv(w.LLMToTTS)
	u.TTSToClient = conv(w.TTSToClient)
	u.EndToEnd = conv(w.EndToEnd)
	return nil
}

// MarshalJSON renders a violation with millisecond values.
func (v Violation) MarshalJSON() ([]byte, error) {
	type wire struct {
		PipelineID  string    `json:"pipelineId"`
		SessionID   string    `json:"sessionId"`
		Stage       string    `json:"stage"`
		ObservedMs  int64     `json:"observedMs"`
		ThresholdMs int64     `json:"thresholdMs"`
		Timestamp   time.Time `json:"timestamp"`
	}
	return json.Marshal(wire{
		PipelineID:  v.PipelineID,
		SessionID:   v.SessionID,
		Stage:       v.Stage,
		ObservedMs:  v.Observed.Milliseconds(),
		ThresholdMs: v.Threshold.Milliseconds(),
		Timestamp:   v.Timestamp,
	})
}

// MarshalJSON renders a distribution with millisecond values plus the
// derived average.
func (d Distribution) MarshalJSON() ([]byte, error) {
	type wire struct {
		Count int   `json:"count"`
		SumMs int64 `json:"sumMs"`
		MinMs int64 `json:"minMs"`
		MaxMs int64 `json:"maxMs"`
		AvgMs int64 `json:"avgMs"`
	}
	return json.Marshal(wire{
		Count: d.Count,
		SumMs: d.Sum.Milliseconds(),
		MinMs: d.Min.Milliseconds(),
		MaxMs: d.Max.Milliseconds(),
		AvgMs: d.Average().Milliseconds(),
	})
}
