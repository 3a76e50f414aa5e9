// Package main runs the side-effect worker: it records queued notifications and points credits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fairway-meetups/backend/config"
	"github.com/fairway-meetups/backend/internal/notifications"
	"github.com/fairway-meetups/backend/internal/rewards"
	"github.com/fairway-meetups/backend/internal/worker"
	"github.com/fairway-meetups/backend/pkg/database"
	"github.com/fairway-meetups/backend/pkg/queue"
	"github.com/fairway-meetups/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("REDIS_ADDR is required for the worker")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewEffectProcessor(
		jobQueue,
		notifications.NewRepository(pool),
		rewards.NewRepository(pool),
		cfg.Worker.PollTimeout,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started", zap.Duration("poll_timeout", cfg.Worker.PollTimeout))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
