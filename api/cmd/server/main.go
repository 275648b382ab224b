package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mediaPipeline/api/clock"
	"mediaPipeline/api/config"
	"mediaPipeline/api/database"
	"mediaPipeline/api/handlers"
	"mediaPipeline/api/kafka"
	"mediaPipeline/api/middleware"
	"mediaPipeline/api/progress"
	"mediaPipeline/api/registry"
	"mediaPipeline/api/repository"
	"mediaPipeline/api/scheduler"
	"mediaPipeline/api/service"
)

const redisKeyPrefix = "media:"

// globalRand draws from the runtime-seeded package source.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Invalid configuration", zap.Error(err))
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	logger.Info("API Service starting",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("events", cfg.EventsEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer repo.Close()

	var publisher scheduler.Publisher
	if cfg.EventsEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatal("Failed to connect to Kafka", zap.Error(err))
		}
		defer producer.Close()
		publisher = producer
	}

	var source progress.Rand = globalRand{}
	if cfg.RandomSeed != 0 {
		seed := uint64(cfg.RandomSeed)
		source = rand.New(rand.NewPCG(seed, seed))
	}

	clk := clock.System{}
	model := progress.NewModel(cfg.Engine.Progress(), source)
	engine := scheduler.NewEngine(repo, model, clk, cfg.Engine.QueueDelay, publisher, logger.Named("scheduler"))
	defer engine.Close()
	assets := registry.New(repo, cfg.MaxFileSize, logger.Named("registry"))

	var latency service.Latency
	if cfg.SimulateLatency {
		latency = service.DefaultLatency()
	}
	taskService := service.NewTaskService(engine, assets, clk, latency, logger)
	taskHandler := handlers.NewTaskHandler(taskService, assets.MaxFileSize(), cfg.UploadDir, logger.Named("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	taskHandler.Register(mux)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: middleware.Chain(mux,
			middleware.TraceID,
			middleware.Recovery(logger),
			middleware.Logging(logger),
			middleware.Timeout(cfg.RequestTimeout),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TickInterval > 0 {
		go engine.Run(ctx, cfg.TickInterval)
	}

	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewSQLiteRepo(db)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.BackendPostgres:
		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case config.BackendRedis:
		cache, err := database.ConnectCache(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return repository.NewRedisRepo(cache, redisKeyPrefix), nil
	}
	logger.Info("Using in-memory task store")
	return repository.NewMemoryRepo(), nil
}
