package events

import (
	"context"
	"testing"

	"voice-pipeline-orchestrator/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerLifecycle != nil {
				t.Error("expected nil lifecycle writer when disabled")
			}
			if p.writerAlerts != nil {
				t.Error("expected nil alerts writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicLifecycle: "test.lifecycle",
		TopicAlerts:    "test.alerts",
		Principal:      "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicLifecycle != "test.lifecycle" {
		t.Errorf("expected lifecycle topic 'test.lifecycle', got %s", p.topicLifecycle)
	}
	if p.topicAlerts != "test.alerts" {
		t.Errorf("expected alerts topic 'test.alerts', got %s", p.topicAlerts)
	}
}

func TestPublisher_PublishLifecycle_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := models.PipelineLifecycle{
		EventType:  "pipeline.completed",
		PipelineID: "sess-1-100",
		SessionID:  "sess-1",
	}
	err := p.PublishLifecycle(context.Background(), "sess-1", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishAlert_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := models.LatencyAlert{
		EventType:  "pipeline.latency.violation",
		PipelineID: "sess-1-100",
		Stage:      "first-token",
		ObservedMs: 650,
	}
	err := p.PublishAlert(context.Background(), "sess-1", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Create an unmarshalable value (channel)
	event := make(chan int)
	err := p.PublishLifecycle(context.Background(), "test-key", event)

	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Close()
	if err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{
		writerLifecycle: nil,
		writerAlerts:    nil,
	}

	err := p.Close()
	if err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
