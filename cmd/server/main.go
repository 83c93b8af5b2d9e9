package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/pkg/lucidlens"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("LUCIDLENS_CONFIG"), "path to config yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("config.load_failed")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "lucidlens",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := lucidlens.NewApp(ctx, cfg, lucidlens.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("app.init_failed")
	}

	srv := app.Server()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr()).Bool("dreams", cfg.Dreams.Enabled).Msg("server.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("server.shutdown_requested")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server.listen_failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("app.close_failed")
	}
	log.Info().Msg("server.stopped")
}
