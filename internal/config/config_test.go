package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_PRINCIPAL", "HTTP_PORT", "LOG_LEVEL",
		"ASR_GATEWAY_URL", "LLM_ROUTER_URL", "TTS_SERVICE_URL",
		"ASR_LANGUAGE_CODE", "ASR_SAMPLE_RATE_HZ",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_SUCCESS_THRESHOLD",
		"BREAKER_TIMEOUT", "BREAKER_ROLLING_WINDOW",
		"LATENCY_FIRST_TOKEN", "LATENCY_END_TO_END",
		"VAD_THRESHOLD", "VAD_DURATION", "INTERRUPT_COOLDOWN",
		"KAFKA_ENABLED", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-voice-pipeline" {
		t.Errorf("expected default principal 'svc-voice-pipeline', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default port '8080', got %s", cfg.Service.HTTPPort)
	}

	// Downstream defaults
	if cfg.Downstream.ASRGatewayURL != "ws://localhost:7071" {
		t.Errorf("expected default ASR gateway url, got %s", cfg.Downstream.ASRGatewayURL)
	}
	if cfg.Downstream.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.Downstream.LanguageCode)
	}
	if cfg.Downstream.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Downstream.SampleRateHz)
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected default breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Breaker.RollingWindow != 60*time.Second {
		t.Errorf("expected default rolling window 60s, got %v", cfg.Breaker.RollingWindow)
	}

	// Latency defaults
	if cfg.Latency.FirstToken != 500*time.Millisecond {
		t.Errorf("expected default first-token budget 500ms, got %v", cfg.Latency.FirstToken)
	}
	if cfg.Latency.EndToEnd != 2000*time.Millisecond {
		t.Errorf("expected default end-to-end budget 2s, got %v", cfg.Latency.EndToEnd)
	}

	// Interruption defaults
	if cfg.Interruption.VADThreshold != 0.7 {
		t.Errorf("expected default VAD threshold 0.7, got %f", cfg.Interruption.VADThreshold)
	}
	if cfg.Interruption.VADDuration != 150*time.Millisecond {
		t.Errorf("expected default VAD duration 150ms, got %v", cfg.Interruption.VADDuration)
	}
	if cfg.Interruption.Cooldown != 1000*time.Millisecond {
		t.Errorf("expected default cooldown 1s, got %v", cfg.Interruption.Cooldown)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Kafka.TopicLifecycle != "voice.pipeline.lifecycle" {
		t.Errorf("expected default lifecycle topic, got %s", cfg.Kafka.TopicLifecycle)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("HTTP_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ASR_GATEWAY_URL", "ws://asr.internal:7071")
	os.Setenv("ASR_LANGUAGE_CODE", "es-ES")
	os.Setenv("ASR_SAMPLE_RATE_HZ", "8000")
	os.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	os.Setenv("BREAKER_TIMEOUT", "10s")
	os.Setenv("LATENCY_FIRST_TOKEN", "300")
	os.Setenv("VAD_THRESHOLD", "0.85")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	defer func() {
		os.Unsetenv("SERVICE_PRINCIPAL")
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ASR_GATEWAY_URL")
		os.Unsetenv("ASR_LANGUAGE_CODE")
		os.Unsetenv("ASR_SAMPLE_RATE_HZ")
		os.Unsetenv("BREAKER_FAILURE_THRESHOLD")
		os.Unsetenv("BREAKER_TIMEOUT")
		os.Unsetenv("LATENCY_FIRST_TOKEN")
		os.Unsetenv("VAD_THRESHOLD")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Downstream.ASRGatewayURL != "ws://asr.internal:7071" {
		t.Errorf("expected custom ASR gateway url, got %s", cfg.Downstream.ASRGatewayURL)
	}
	if cfg.Downstream.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.Downstream.LanguageCode)
	}
	if cfg.Downstream.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.Downstream.SampleRateHz)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Timeout != 10*time.Second {
		t.Errorf("expected breaker timeout 10s, got %v", cfg.Breaker.Timeout)
	}
	// Bare numbers are read as milliseconds.
	if cfg.Latency.FirstToken != 300*time.Millisecond {
		t.Errorf("expected first-token budget 300ms, got %v", cfg.Latency.FirstToken)
	}
	if cfg.Interruption.VADThreshold != 0.85 {
		t.Errorf("expected VAD threshold 0.85, got %f", cfg.Interruption.VADThreshold)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("expected 2 trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Principal != "custom-principal" {
		t.Errorf("expected Kafka principal to follow service principal, got %s", cfg.Kafka.Principal)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	os.Setenv("ASR_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("VAD_THRESHOLD", "invalid")
	os.Setenv("KAFKA_ENABLED", "invalid")
	os.Setenv("BREAKER_TIMEOUT", "invalid")

	defer func() {
		os.Unsetenv("ASR_SAMPLE_RATE_HZ")
		os.Unsetenv("VAD_THRESHOLD")
		os.Unsetenv("KAFKA_ENABLED")
		os.Unsetenv("BREAKER_TIMEOUT")
	}()

	cfg := Load()

	// Should fall back to defaults on parse errors
	if cfg.Downstream.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Downstream.SampleRateHz)
	}
	if cfg.Interruption.VADThreshold != 0.7 {
		t.Errorf("expected default VAD threshold on invalid input, got %f", cfg.Interruption.VADThreshold)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled on invalid input")
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected default breaker timeout on invalid input, got %v", cfg.Breaker.Timeout)
	}
}

func TestEnvDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      time.Duration
		expected time.Duration
	}{
		{"duration string", "2s", time.Second, 2 * time.Second},
		{"bare milliseconds", "250", time.Second, 250 * time.Millisecond},
		{"invalid", "soon", time.Second, time.Second},
		{"empty", "", time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envDurationOrDefault(key, tt.def)
			if got != tt.expected {
				t.Errorf("envDurationOrDefault(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
