package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/logger"
	"github.com/anypay/eventhub/pkg/anypay"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "eventhub",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})
	log.Logger = appLogger

	app, err := anypay.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	app.Start(ctx)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Str("version", version).Msg("eventhub listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sessions.DrainTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown forced")
	}

	if err := app.Close(); err != nil {
		log.Warn().Err(err).Msg("resource cleanup reported errors")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}
