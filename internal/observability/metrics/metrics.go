// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_pipeline"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Pipeline metrics
	PipelinesTotal    prometheus.Counter
	PipelinesActive   prometheus.Gauge
	PipelinesByState  *prometheus.CounterVec
	EndToEndLatency   *prometheus.HistogramVec
	FirstTokenLatency prometheus.Histogram
	StageLatency      *prometheus.HistogramVec

	// SLA metrics
	LatencyViolations *prometheus.CounterVec

	// Streaming metrics
	AudioChunksReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	ASRPartials         prometheus.Counter
	ASRFinals           prometheus.Counter
	LLMTokens           prometheus.Counter
	TTSChunks           prometheus.Counter

	// Circuit breaker metrics
	BreakerState      *prometheus.GaugeVec
	BreakerRejections *prometheus.CounterVec
	BreakerFallbacks  *prometheus.CounterVec

	// Interruption metrics
	Interruptions        *prometheus.CounterVec
	InterruptionsDropped *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Downstream health
	DownstreamUp *prometheus.GaugeVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Pipeline metrics
		PipelinesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Total number of pipelines started",
		}),
		PipelinesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_active",
			Help:      "Number of currently active pipelines",
		}),
		PipelinesByState: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_finished_total",
			Help:      "Total number of finished pipelines by terminal stage",
		}, []string{"stage"}),
		EndToEndLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "end_to_end_latency_seconds",
			Help:      "End-to-end pipeline latency in seconds by completion status",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}, []string{"status"}),
		FirstTokenLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_token_latency_seconds",
			Help:      "Time from pipeline start to first language-model token",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Per-stage transition latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"stage"}),

		// SLA metrics
		LatencyViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_violations_total",
			Help:      "Total number of latency threshold violations by stage",
		}, []string{"stage"}),

		// Streaming metrics
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks received from clients",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from clients",
		}),
		ASRPartials: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_partials_total",
			Help:      "Total partial transcripts received from recognition",
		}),
		ASRFinals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_finals_total",
			Help:      "Total final transcripts received from recognition",
		}),
		LLMTokens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total language-model content chunks streamed",
		}),
		TTSChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_total",
			Help:      "Total synthesized audio chunks streamed",
		}),

		// Circuit breaker metrics
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
		}, []string{"service"}),
		BreakerRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_rejections_total",
			Help:      "Total calls rejected by an open circuit breaker",
		}, []string{"service"}),
		BreakerFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_fallbacks_total",
			Help:      "Total degraded responses served by breaker fallbacks",
		}, []string{"service"}),

		// Interruption metrics
		Interruptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total pipeline interruptions by trigger",
		}, []string{"trigger"}),
		InterruptionsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_dropped_total",
			Help:      "Total VAD signals dropped before triggering",
		}, []string{"reason"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Downstream health
		DownstreamUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downstream_up",
			Help:      "Last health probe result per downstream service (1=up)",
		}, []string{"service"}),
	}
}

// RecordPipelineStart records a new pipeline starting.
func (m *Metrics) RecordPipelineStart() {
	m.PipelinesTotal.Inc()
	m.PipelinesActive.Inc()
}

// RecordPipelineEnd records a pipeline reaching a terminal stage.
func (m *Metrics) RecordPipelineEnd(stage string) {
	m.PipelinesActive.Dec()
	m.PipelinesByState.WithLabelValues(stage).Inc()
}

// RecordAudioChunk records an inbound audio chunk.
func (m *Metrics) RecordAudioChunk(bytes int) {
	m.AudioChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordStageLatency records one inter-stage latency observation.
func (m *Metrics) RecordStageLatency(stage string, seconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordViolation records a latency SLA violation.
func (m *Metrics) RecordViolation(stage string) {
	m.LatencyViolations.WithLabelValues(stage).Inc()
}

// RecordBreakerState records a breaker state change.
func (m *Metrics) RecordBreakerState(service string, state int) {
	m.BreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordInterruption records an accepted interruption by trigger type.
func (m *Metrics) RecordInterruption(trigger string) {
	m.Interruptions.WithLabelValues(trigger).Inc()
}

// RecordInterruptionDropped records a VAD signal dropped before triggering.
func (m *Metrics) RecordInterruptionDropped(reason string) {
	m.InterruptionsDropped.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordDownstreamHealth records the result of a downstream health probe.
func (m *Metrics) RecordDownstreamHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.DownstreamUp.WithLabelValues(service).Set(v)
}
