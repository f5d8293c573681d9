package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ioriimasu34/weft/internal/api"
	"github.com/ioriimasu34/weft/internal/application/factories/infrastructure"
	"github.com/ioriimasu34/weft/internal/auth"
	"github.com/ioriimasu34/weft/internal/config"
	"github.com/ioriimasu34/weft/internal/infrastructure/postgres"
	redisInfra "github.com/ioriimasu34/weft/internal/infrastructure/redis"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Dependencies
	streamLog := redisInfra.NewStreamLog(redisClient)
	deviceRepo := postgres.NewDeviceRepository(pgPool)
	validator := auth.NewValidator(time.Duration(cfg.Auth.SkewSeconds) * time.Second)

	checks := map[string]func(ctx context.Context) error{
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
		"postgres": func(ctx context.Context) error {
			return pgPool.Ping(ctx)
		},
	}

	handlers := api.NewHandlers(streamLog, deviceRepo, checks, cfg.App.Version)
	router := api.NewRouter(handlers, deviceRepo, validator)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Gateway starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Gateway exiting")
}
