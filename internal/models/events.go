// Package models defines the data structures for published pipeline events.
package models

import "voice-pipeline-orchestrator/internal/pipeline"

// PipelineLifecycle is published when a pipeline reaches a terminal stage
// or is explicitly ended.
type PipelineLifecycle struct {
	EventType  string            `json:"eventType"` // pipeline.completed | pipeline.error | pipeline.interrupted | pipeline.ended
	PipelineID string            `json:"pipelineId"`
	SessionID  string            `json:"sessionId"`
	UserID     string            `json:"userId"`
	Timestamp  int64             `json:"timestamp"`
	Snapshot   pipeline.Snapshot `json:"snapshot"`
}

// LatencyAlert is published when a pipeline breaches a first-token or
// end-to-end SLA budget.
type LatencyAlert struct {
	EventType   string `json:"eventType"` // pipeline.latency.violation
	PipelineID  string `json:"pipelineId"`
	SessionID   string `json:"sessionId"`
	Stage       string `json:"stage"`
	ObservedMs  int64  `json:"observedMs"`
	ThresholdMs int64  `json:"thresholdMs"`
	Timestamp   int64  `json:"timestamp"`
}

// InterruptionRecord is published when a barge-in trigger cancels a
// pipeline.
type InterruptionRecord struct {
	EventType  string  `json:"eventType"` // pipeline.interruption
	PipelineID string  `json:"pipelineId"`
	SessionID  string  `json:"sessionId"`
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}
