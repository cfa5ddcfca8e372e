// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// DownstreamConfig holds the endpoints of the external pipeline stages.
type DownstreamConfig struct {
	ASRGatewayURL string // websocket base, e.g. ws://asr-gateway:8080
	LLMRouterURL  string // http base, e.g. http://llm-router:8081
	TTSServiceURL string // http base, e.g. http://tts-service:8082
	LanguageCode  string
	SampleRateHz  int
	Voice         string
	Speed         float64
	Temperature   float64
	MaxTokens     int
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	RollingWindow    time.Duration
}

// LatencyConfig holds SLA budgets in milliseconds.
type LatencyConfig struct {
	FirstToken  time.Duration
	AudioToASR  time.Duration
	ASRToLLM    time.Duration
	LLMToTTS    time.Duration
	TTSToClient time.Duration
	EndToEnd    time.Duration
}

// InterruptionConfig holds barge-in gating parameters.
type InterruptionConfig struct {
	VADThreshold float64
	VADDuration  time.Duration
	Cooldown     time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicLifecycle string
	TopicAlerts    string
	Principal      string
}

// ObservabilityConfig holds metrics/logging settings.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsPort string
}

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Downstream    DownstreamConfig
	Breaker       BreakerConfig
	Latency       LatencyConfig
	Interruption  InterruptionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// Load builds the configuration from environment variables with defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-pipeline")
	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Downstream: DownstreamConfig{
			ASRGatewayURL: envOrDefault("ASR_GATEWAY_URL", "ws://localhost:7071"),
			LLMRouterURL:  envOrDefault("LLM_ROUTER_URL", "http://localhost:7072"),
			TTSServiceURL: envOrDefault("TTS_SERVICE_URL", "http://localhost:7073"),
			LanguageCode:  envOrDefault("ASR_LANGUAGE_CODE", "en-US"),
			SampleRateHz:  envIntOrDefault("ASR_SAMPLE_RATE_HZ", 16000),
			Voice:         envOrDefault("TTS_VOICE", "default"),
			Speed:         envFloatOrDefault("TTS_SPEED", 1.0),
			Temperature:   envFloatOrDefault("LLM_TEMPERATURE", 0.7),
			MaxTokens:     envIntOrDefault("LLM_MAX_TOKENS", 1024),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envIntOrDefault("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: envIntOrDefault("BREAKER_SUCCESS_THRESHOLD", 2),
			Timeout:          envDurationOrDefault("BREAKER_TIMEOUT", 30*time.Second),
			RollingWindow:    envDurationOrDefault("BREAKER_ROLLING_WINDOW", 60*time.Second),
		},
		Latency: LatencyConfig{
			FirstToken:  envDurationOrDefault("LATENCY_FIRST_TOKEN", 500*time.Millisecond),
			AudioToASR:  envDurationOrDefault("LATENCY_AUDIO_TO_ASR", 50*time.Millisecond),
			ASRToLLM:    envDurationOrDefault("LATENCY_ASR_TO_LLM", 100*time.Millisecond),
			LLMToTTS:    envDurationOrDefault("LATENCY_LLM_TO_TTS", 50*time.Millisecond),
			TTSToClient: envDurationOrDefault("LATENCY_TTS_TO_CLIENT", 100*time.Millisecond),
			EndToEnd:    envDurationOrDefault("LATENCY_END_TO_END", 2000*time.Millisecond),
		},
		Interruption: InterruptionConfig{
			VADThreshold: envFloatOrDefault("VAD_THRESHOLD", 0.7),
			VADDuration:  envDurationOrDefault("VAD_DURATION", 150*time.Millisecond),
			Cooldown:     envDurationOrDefault("INTERRUPT_COOLDOWN", 1000*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:        envBoolOrDefault("KAFKA_ENABLED", false),
			Brokers:        envListOrDefault("KAFKA_BROKERS", nil),
			TopicLifecycle: envOrDefault("KAFKA_TOPIC_LIFECYCLE", "voice.pipeline.lifecycle"),
			TopicAlerts:    envOrDefault("KAFKA_TOPIC_ALERTS", "voice.pipeline.alerts"),
			Principal:      principal,
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are read as milliseconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func envListOrDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
