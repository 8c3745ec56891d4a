package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/receipt-guard/internal/infrastructure/config"
	"github.com/bivex/receipt-guard/internal/infrastructure/external/iap"
	"github.com/bivex/receipt-guard/internal/infrastructure/logging"
	"github.com/bivex/receipt-guard/internal/infrastructure/persistence/pool"
	"github.com/bivex/receipt-guard/internal/infrastructure/persistence/repository"
	worker_tasks "github.com/bivex/receipt-guard/internal/worker/tasks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting webhook worker")

	// Initialize database for worker tasks
	ctx := context.Background()
	dbPool, err := pool.NewPool(ctx, cfg.Database)
	if err != nil {
		logging.Logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close(dbPool)

	eventRepo := repository.NewWebhookEventRepository(dbPool)
	receiptRepo := repository.NewReceiptRepository(dbPool)

	// Google subscription notifications carry no expiry; the worker asks
	// the Play Developer API for the current state.
	googleValidator, err := iap.NewGoogleValidator(ctx, cfg.IAP.GoogleKeyJSON, cfg.IAP.GooglePackageName, logging.WithComponent("google_validator"))
	if err != nil {
		logging.Logger.Fatal("Failed to create Google validator", zap.Error(err))
	}

	taskHandlers := worker_tasks.NewTaskHandlers(eventRepo, receiptRepo, googleValidator)

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// Initialize Asynq server
	server := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"default": 1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			// Exponential backoff: 2^n seconds
			return time.Duration(1<<uint(n)) * time.Second
		},
	})

	// Register task handlers
	mux := asynq.NewServeMux()
	worker_tasks.RegisterHandlers(mux, taskHandlers)

	// Start server in background
	if err := server.Start(mux); err != nil {
		logging.Logger.Fatal("Failed to start worker", zap.Error(err))
	}

	logging.Logger.Info("Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down worker...")

	server.Shutdown()

	logging.Logger.Info("Worker exited")
}
