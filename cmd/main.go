package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	apihttp "voice-pipeline-orchestrator/internal/api/http"
	"voice-pipeline-orchestrator/internal/app"
	"voice-pipeline-orchestrator/internal/config"
	"voice-pipeline-orchestrator/internal/observability"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}

	api := apihttp.NewAPI(application.Orchestrator, application.Monitor, application.Interruptions)
	server := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      api.NewRouter(),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
		// No write timeout: the audio websocket outlives any fixed bound.
	}

	obsServer := observability.NewServer(":"+cfg.Observability.MetricsPort, application.Ready)
	obsServer.Start()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Voice pipeline orchestrator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Observability shutdown failed")
	}
	application.Shutdown()
}
