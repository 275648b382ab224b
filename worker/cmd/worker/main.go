package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mediaPipeline/api/database"
	"mediaPipeline/api/models"
	"mediaPipeline/worker/cache"
	"mediaPipeline/worker/config"
	"mediaPipeline/worker/converter"
	"mediaPipeline/worker/kafka"
	"mediaPipeline/worker/pool"
	"mediaPipeline/worker/repository"
	"mediaPipeline/worker/service"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	if cfg.Env != "production" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Worker Service starting",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.Int("workers", cfg.WorkerCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewPostgresRepo(db.Pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	var renderer service.PreviewRenderer
	if cfg.PreviewDir != "" {
		renderer = converter.NewConverter(cfg.PreviewDir, logger.Named("converter"))
	}

	processor := service.NewProcessor(repo, cache.NewStatusCache(redisCache.Client()), renderer, logger.Named("processor"))

	workers := pool.NewWorkerPool(cfg.WorkerCount, cfg.QueueSize, processor.Process, logger.Named("pool"))
	workers.Start(context.WithoutCancel(ctx))

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, logger.Named("consumer"))
	if err != nil {
		logger.Fatal("Failed to create consumer", zap.Error(err))
	}

	err = consumer.Consume(ctx, cfg.KafkaTopic, func(ctx context.Context, event *models.TaskEvent) error {
		return workers.Submit(ctx, event)
	})
	if err != nil {
		logger.Error("Consumer stopped", zap.Error(err))
	}

	if err := consumer.Close(); err != nil {
		logger.Warn("Failed to close consumer", zap.Error(err))
	}
	workers.Close()
	logger.Info("Worker Service stopped")
}
