// Package app wires the service components together.
package app

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-pipeline-orchestrator/internal/breaker"
	"voice-pipeline-orchestrator/internal/config"
	"voice-pipeline-orchestrator/internal/events"
	"voice-pipeline-orchestrator/internal/interruption"
	"voice-pipeline-orchestrator/internal/latency"
	"voice-pipeline-orchestrator/internal/models"
	"voice-pipeline-orchestrator/internal/observability/logging"
	"voice-pipeline-orchestrator/internal/observability/metrics"
	"voice-pipeline-orchestrator/internal/orchestrator"
)

const serviceName = "voice-pipeline-orchestrator"

// Application holds process-wide state and the wired pipeline components.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Publisher     *events.Publisher
	Breakers      *breaker.Manager
	Monitor       *latency.Monitor
	Orchestrator  *orchestrator.Orchestrator
	Interruptions *interruption.Handler
}

// New constructs the full component graph from configuration.
func New(cfg *config.Config) *Application {
	a := &Application{Cfg: cfg}
	a.setupLogger()

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicLifecycle: cfg.Kafka.TopicLifecycle,
		TopicAlerts:    cfg.Kafka.TopicAlerts,
		Principal:      cfg.Kafka.Principal,
	})

	a.Breakers = breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		RollingWindow:    cfg.Breaker.RollingWindow,
	})
	a.Breakers.SetStateChangeHook(func(name string, _, to breaker.State) {
		metrics.DefaultMetrics.RecordBreakerState(name, int(to))
	})
	a.Breakers.SetRejectHook(func(name string) {
		metrics.DefaultMetrics.BreakerRejections.WithLabelValues(name).Inc()
	})

	a.Monitor = latency.NewMonitor(latency.Thresholds{
		FirstToken:  cfg.Latency.FirstToken,
		AudioToASR:  cfg.Latency.AudioToASR,
		ASRToLLM:    cfg.Latency.ASRToLLM,
		LLMToTTS:    cfg.Latency.LLMToTTS,
		TTSToClient: cfg.Latency.TTSToClient,
		EndToEnd:    cfg.Latency.EndToEnd,
	}, nil)
	// Violations leave the process through the alerts topic.
	a.Monitor.SetViolationCallback(func(v latency.Violation) {
		alert := models.LatencyAlert{
			EventType:   "pipeline.latency.violation",
			PipelineID:  v.PipelineID,
			SessionID:   v.SessionID,
			Stage:       v.Stage,
			ObservedMs:  v.Observed.Milliseconds(),
			ThresholdMs: v.Threshold.Milliseconds(),
			Timestamp:   v.Timestamp.UnixMilli(),
		}
		if err := a.Publisher.PublishAlert(context.Background(), v.SessionID, alert); err != nil {
			log.Warn().Err(err).Str("pipelineId", v.PipelineID).Msg("Failed to publish latency alert")
		}
	})

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		ASRGatewayURL:  cfg.Downstream.ASRGatewayURL,
		LLMRouterURL:   cfg.Downstream.LLMRouterURL,
		TTSServiceURL:  cfg.Downstream.TTSServiceURL,
		LanguageCode:   cfg.Downstream.LanguageCode,
		SampleRateHz:   cfg.Downstream.SampleRateHz,
		Voice:          cfg.Downstream.Voice,
		Speed:          cfg.Downstream.Speed,
		Temperature:    cfg.Downstream.Temperature,
		MaxTokens:      cfg.Downstream.MaxTokens,
		RequestTimeout: cfg.Latency.EndToEnd,
	}, a.Breakers, a.Monitor, a.Publisher, nil)

	a.Interruptions = interruption.NewHandler(interruption.Config{
		VADThreshold: cfg.Interruption.VADThreshold,
		VADDuration:  cfg.Interruption.VADDuration,
		Cooldown:     cfg.Interruption.Cooldown,
	}, a.Orchestrator, nil)
	a.Interruptions.SetEventCallback(func(ev interruption.Event) {
		record := models.InterruptionRecord{
			EventType:  "pipeline.interruption",
			PipelineID: ev.PipelineID,
			SessionID:  ev.SessionID,
			Trigger:    ev.Trigger,
			Confidence: ev.Confidence,
			Timestamp:  ev.Timestamp.UnixMilli(),
		}
		if err := a.Publisher.PublishAlert(context.Background(), ev.SessionID, record); err != nil {
			log.Warn().Err(err).Str("pipelineId", ev.PipelineID).Msg("Failed to publish interruption record")
		}
	})

	a.Logger.Info().Msg("Voice pipeline orchestrator application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = a.Cfg.Observability.LogLevel
	if os.Getenv("ENV") == "dev" {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)

	a.Logger = log.With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", logCfg.Level).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice pipeline orchestrator starting")
	return nil
}

// Ready reports whether startup completed. Used by the readiness probe.
func (a *Application) Ready() bool {
	return !a.StartupTime.IsZero()
}

// Shutdown abandons in-flight pipelines and flushes the publisher.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Voice pipeline orchestrator shutting down")
	a.Orchestrator.Shutdown()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event publisher")
	}
}
