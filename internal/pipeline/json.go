package pipeline

import (
	"encoding/json"
	"time"
)

// MarshalJSON renders the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func msOrNil(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	v := d.Milliseconds()
	return &v
}

// MarshalJSON renders latency fields in milliseconds, matching the field
// tags.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type wire struct {
		StartTime          time.Time `json:"startTime"`
		AudioToASRLatency  *int64    `json:"audioToAsrLatencyMs"`
		ASRToLLMLatency    *int64    `json:"asrToLlmLatencyMs"`
		LLMToTTSLatency    *int64    `json:"llmToTtsLatencyMs"`
		TTSToClientLatency *int64    `json:"ttsToClientLatencyMs"`
		FirstTokenLatency  *int64    `json:"firstTokenLatencyMs"`
		TotalLatency       *int64    `json:"totalLatencyMs"`
		ASRPartialCount    int       `json:"asrPartialCount"`
		LLMTokenCount      int       `json:"llmTokenCount"`
		TTSChunkCount      int       `json:"ttsChunkCount"`
	}
	return json.Marshal(wire{
		StartTime:          m.StartTime,
		AudioToASRLatency:  msOrNil(m.AudioToASRLatency),
		ASRToLLMLatency:    msOrNil(m.ASRToLLMLatency),
		LLMToTTSLatency:    msOrNil(m.LLMToTTSLatency),
		TTSToClientLatency: msOrNil(m.TTSToClientLatency),
		FirstTokenLatency:  msOrNil(m.FirstTokenLatency),
		TotalLatency:       msOrNil(m.TotalLatency),
		ASRPartialCount:    m.ASRPartialCount,
		LLMTokenCount:      m.LLMTokenCount,
		TTSChunkCount:      m.TTSChunkCount,
	})
}
