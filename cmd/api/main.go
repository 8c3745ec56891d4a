package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/receipt-guard/internal/application/command"
	"github.com/bivex/receipt-guard/internal/application/middleware"
	"github.com/bivex/receipt-guard/internal/application/query"
	"github.com/bivex/receipt-guard/internal/infrastructure/config"
	"github.com/bivex/receipt-guard/internal/infrastructure/external/iap"
	"github.com/bivex/receipt-guard/internal/infrastructure/logging"
	"github.com/bivex/receipt-guard/internal/infrastructure/persistence/pool"
	"github.com/bivex/receipt-guard/internal/infrastructure/persistence/repository"
	app_handler "github.com/bivex/receipt-guard/internal/interfaces/http/handlers"
)

func main() {
	// Load configuration. Store credentials are validated here: a
	// missing shared secret or service account kills the process now,
	// not the first request.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting receipt validation API server",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Sentry.Environment),
	)

	ctx := context.Background()
	dbPool, err := pool.NewPool(ctx, cfg.Database)
	if err != nil {
		logging.Logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close(dbPool)

	if err := pool.Ping(ctx, dbPool); err != nil {
		logging.Logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	asynqClient := asynq.NewClientFromRedisClient(redisClient)
	defer asynqClient.Close()

	// Initialize repositories
	receiptRepo := repository.NewReceiptRepository(dbPool)
	purchaseRepo := repository.NewPurchaseRepository(dbPool)
	webhookRepo := repository.NewWebhookEventRepository(dbPool)

	// Initialize platform validators
	appleValidator := iap.NewAppleValidator(cfg.IAP.AppleSharedSecret, logging.WithComponent("apple_validator"))
	googleValidator, err := iap.NewGoogleValidator(ctx, cfg.IAP.GoogleKeyJSON, cfg.IAP.GooglePackageName, logging.WithComponent("google_validator"))
	if err != nil {
		logging.Logger.Fatal("Failed to create Google validator", zap.Error(err))
	}

	// Initialize middleware
	jwtMiddleware := middleware.NewJWTMiddleware(cfg.JWT.Secret, redisClient, cfg.JWT.AccessTTL, cfg.JWT.Issuer)
	rateLimiter := middleware.NewRateLimiter(redisClient, true) // fail open

	// Initialize commands and queries
	validateCmd := command.NewValidateReceiptCommand(
		receiptRepo,
		purchaseRepo,
		appleValidator,
		iap.NewGoogleProductValidator(googleValidator),
		logging.WithComponent("validate_receipt"),
	)
	restoreQuery := query.NewRestorePurchasesQuery(purchaseRepo)

	// Initialize handlers
	iapHandler := app_handler.NewIAPHandler(validateCmd, restoreQuery)
	webhookHandler := app_handler.NewWebhookHandler(webhookRepo, asynqClient, logging.WithComponent("webhook"))

	// Setup Gin router
	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhook routes (no auth; senders retry on non-2xx, events are
	// stored idempotently and applied asynchronously)
	webhooks := router.Group("/webhook")
	{
		webhooks.POST("/apple", webhookHandler.AppleWebhook)
		webhooks.POST("/google", webhookHandler.GoogleWebhook)
	}

	// API v1 routes (require JWT)
	v1 := router.Group("/v1")
	v1.Use(jwtMiddleware.Authenticate())
	{
		iapRoutes := v1.Group("/iap")
		iapRoutes.POST("/validate",
			rateLimiter.Middleware(middleware.ByUserID, middleware.ValidationConfig),
			iapHandler.ValidateReceipt,
		)
		iapRoutes.GET("/purchases", iapHandler.RestorePurchases)
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}
