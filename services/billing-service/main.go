package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	dynamopkg "github.com/Receptionally/firewood-marketplace/pkg/dynamodb"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/config"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/controllers"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/database"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/routes"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
	apperrors "github.com/Receptionally/firewood-marketplace/services/common/errors"
	"github.com/Receptionally/firewood-marketplace/services/common/logger"
	"github.com/Receptionally/firewood-marketplace/services/common/middleware"
)

const serviceName = "billing-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS clients
	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx, awspkg.Options{
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("AWS_ENDPOINT"),
	})

	var secrets config.SecretGetter
	if awsErr == nil {
		secrets = awspkg.NewSecretsClient(awsCfg)
	}
	cfg, err := config.LoadConfig(ctx, secrets)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var sink io.Writer
	if cfg.CloudWatchEnabled && awsErr == nil {
		cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
		} else {
			sink = cwLogs
		}
	}
	zlog, err := logger.New(cfg.Environment, sink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	if awsErr != nil {
		zlog.Warn("AWS config unavailable, SQS, SNS, DynamoDB and CloudWatch disabled", zap.Error(awsErr))
	}

	db, err := database.Connect(cfg.DSN(), zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsErr == nil {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	ledger := repository.NewGormChargeLedger(db)
	orderRepo := repository.NewGormOrderRepository(db)
	sellerRepo := repository.NewGormSellerRepository(db)

	provider := services.NewStripeProvider(cfg.StripeAPIKey, cfg.GatewayTimeout, zlog)
	gateway := services.NewRetryingGateway(
		services.NewSubscriptionGateway(sellerRepo, provider, cfg.SubscriptionFeeCents, cfg.SubscriptionCurrency, zlog),
		cfg.GatewayMaxAttempts, cfg.GatewayTimeout, 500*time.Millisecond, zlog,
	)

	var locker services.OrderLocker
	if cfg.RedisURL != "" {
		redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zlog.Warn("Redis unavailable, charge lock disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			locker = services.NewRedisOrderLocker(redisClient, 2*cfg.GatewayTimeout*time.Duration(cfg.GatewayMaxAttempts), zlog)
		}
	}

	journal := newJournal(ctx, cfg, awsCfg, awsErr, zlog)

	var events *services.EventPublisher
	if awsErr == nil && cfg.BillingSNSTopicARN != "" {
		events = services.NewEventPublisher(awspkg.NewSNSClient(awsCfg), cfg.BillingSNSTopicARN, zlog)
	}

	deps := services.OrchestratorDeps{
		Oracle:   services.NewPaymentStatusOracle(ledger, metricsRecorder(metrics), zlog),
		Gateway:  gateway,
		Ledger:   ledger,
		Orders:   orderRepo,
		Locker:   locker,
		Journal:  journal,
		Events:   events,
		Metrics:  metricsRecorder(metrics),
		Fee:      cfg.SubscriptionFeeCents,
		Currency: cfg.SubscriptionCurrency,
	}
	orchestrator := services.NewChargeOrchestrator(deps, zlog)

	var queue services.BillingQueue
	if cfg.BillingQueueURL != "" && awsErr == nil {
		queue = services.NewSQSBillingQueue(awspkg.NewQueue(awsCfg, cfg.BillingQueueURL, zlog))
		zlog.Info("Billing requests use SQS", zap.String("queue_url", cfg.BillingQueueURL))
	} else {
		queue = services.NewInlineBillingQueue(256, zlog)
		zlog.Info("Billing requests use the in-process queue")
	}
	worker := services.NewBillingWorker(orchestrator, queue, cfg.BillingMaxAttempts, 30*time.Second, metricsRecorder(metrics), zlog)
	go func() {
		if err := queue.Start(ctx, worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("Billing queue stopped", zap.Error(err))
		}
	}()

	reconciler := services.NewReconciler(journal, ledger, sellerRepo, provider, metricsRecorder(metrics), zlog).
		WithProviderSweep(cfg.BillingThresholdPriorOrders, cfg.ReconcileSweepBatch)
	go reconciler.Start(ctx, cfg.ReconcileInterval)

	orderService := services.NewOrderService(orderRepo, queue,
		services.BillingPolicy{ThresholdPriorOrders: cfg.BillingThresholdPriorOrders}, metricsRecorder(metrics), zlog)
	history := services.NewChargeHistoryService(ledger, sellerRepo, provider)

	billingController := controllers.NewBillingController(orchestrator, orderService, history, reconciler, zlog)
	orderController := controllers.NewOrderController(orderService, orchestrator, zlog)
	webhookController := controllers.NewWebhookController(reconciler, cfg.StripeWebhookSecret, zlog)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	corsConfig := middleware.CORSConfig(cfg.AllowedOrigins)
	if err := corsConfig.Validate(); err != nil {
		zlog.Fatal("Invalid ALLOWED_ORIGINS", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zlog))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.New(corsConfig))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	rateLimiter := middleware.NewRateLimiter(ctx, rate.Limit(10), 20, 10*time.Minute)
	routes.RegisterBillingRoutes(r, billingController, webhookController, rateLimiter)
	routes.RegisterOrderRoutes(r, orderController, rateLimiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Server failed", zap.Error(err))
		}
	}()

	zlog.Info("Billing service started", zap.String("port", cfg.Port))
	<-ctx.Done()
	zlog.Info("Shutting down billing service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	zlog.Info("Server exited cleanly")
}

// newJournal returns the DynamoDB unrecorded-charge journal, or nil when it
// is not configured.
func newJournal(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, awsErr error, zlog *zap.Logger) services.UnrecordedChargeJournal {
	if cfg.UnrecordedChargesTable == "" || awsErr != nil {
		zlog.Warn("Unrecorded charge journal disabled; relying on webhook and provider reconciliation")
		return nil
	}
	client := dynamopkg.NewClientFromConfig(awsCfg)
	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := dynamopkg.EnsureTable(ensureCtx, client, cfg.UnrecordedChargesTable, "order_id"); err != nil {
		zlog.Warn("Unrecorded charge journal table unavailable", zap.Error(err))
		return nil
	}
	return services.NewDynamoJournal(client, cfg.UnrecordedChargesTable)
}

// metricsRecorder keeps a nil client from becoming a non-nil interface.
func metricsRecorder(m *awspkg.MetricsClient) services.MetricsRecorder {
	if m == nil {
		return nil
	}
	return m
}
