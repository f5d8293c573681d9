package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ioriimasu34/weft/internal/application/factories/infrastructure"
	"github.com/ioriimasu34/weft/internal/config"
	"github.com/ioriimasu34/weft/internal/infrastructure/postgres"
	redisInfra "github.com/ioriimasu34/weft/internal/infrastructure/redis"
	"github.com/ioriimasu34/weft/internal/retry"
	"github.com/ioriimasu34/weft/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	// Metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Worker metrics listening", "port", cfg.Worker.MetricsPort)
		http.ListenAndServe(":"+cfg.Worker.MetricsPort, mux)
	}()

	// Infrastructure
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
	readRepo := postgres.NewReadRepository(pgPool)
	producer := infraFactory.KafkaProducer()

	w := worker.New(worker.Config{
		Group:           cfg.Worker.Group,
		Consumer:        cfg.Worker.ConsumerID,
		BatchSize:       int64(cfg.Worker.BatchSize),
		Block:           time.Duration(cfg.Worker.BlockMS) * time.Millisecond,
		ReclaimIdle:     time.Duration(cfg.Worker.ReclaimIdleMS) * time.Millisecond,
		ReclaimInterval: time.Duration(cfg.Worker.ReclaimIntervalMS) * time.Millisecond,
		ReclaimLimit:    int64(cfg.Worker.ReclaimLimit),
	}, streamLog, readRepo, producer, retry.Default())

	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}

	logger.Info("worker exited")
}
