package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memory"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "checkout-service"

// backends are the storage collaborators of the core, either Postgres and
// Redis or their in-memory counterparts.
type backends struct {
	inventory service.InventoryRepository
	coupons   service.CouponRepository
	orders    service.OrderRepository
	payments  service.PaymentLedger
	degraded  service.DegradedLog
	idem      service.IdempotencyCache
	locker    service.Locker
	ready     api.ReadinessProbe
	closers   []func() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service", zap.String("store", cfg.Database.Driver))

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var be *backends
	switch cfg.Database.Driver {
	case config.DriverMemory:
		be = memoryBackends()
	case config.DriverPostgres:
		be, err = postgresBackends(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize backends", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown STORE_DRIVER", zap.String("driver", cfg.Database.Driver))
	}
	defer func() {
		for i := len(be.closers) - 1; i >= 0; i-- {
			if err := be.closers[i](); err != nil {
				logger.Warn("Error closing backend", zap.Error(err))
			}
		}
	}()

	var events *broker.EventPublisher
	if cfg.Database.Driver == config.DriverMemory {
		logWriter := broker.NewLogWriter()
		events = broker.NewEventPublisher(logWriter, logWriter)
	} else {
		checkoutProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
		defer checkoutProducer.Close()
		degradedProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDegraded)
		defer degradedProducer.Close()
		events = broker.NewEventPublisher(checkoutProducer, degradedProducer)
		logger.Info("Kafka producers initialized",
			zap.String("checkout_topic", cfg.Kafka.TopicCheckout),
			zap.String("degraded_topic", cfg.Kafka.TopicDegraded))
	}

	retry := service.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Business.PersistMaxAttempts
	retry.Initial = cfg.Business.PersistInitialBackoff()

	ledger := service.NewInventoryLedger(be.inventory)
	coupons := service.NewCouponValidator(be.coupons)
	finalizer := service.NewCheckoutFinalizer(ledger, coupons, be.orders, be.payments, events, be.degraded, be.idem,
		service.FinalizerConfig{
			Retry:          retry,
			Timeout:        cfg.Business.CheckoutTimeout(),
			IdempotencyTTL: cfg.Business.IdempotencyTTL(),
		})
	reconciler := service.NewReconciler(be.payments, be.orders, finalizer, be.degraded, be.locker, cfg.Business.ReconcileMaxDays)
	orderService := service.NewOrderService(be.orders)
	paymentService := service.NewPaymentService(be.payments, finalizer)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	replayWorker := worker.NewDegradedReplayWorker(reconciler, cfg.Business.DegradedReplayInterval(), cfg.Business.DegradedReplayBatch)
	go func() {
		if err := replayWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Degraded replay worker error", zap.Error(err))
		}
	}()

	var paymentWorker *worker.PaymentWorker
	if cfg.Database.Driver != config.DriverMemory && cfg.Kafka.EnableConsumer {
		paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(paymentConsumer, paymentService)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Finalizer:  finalizer,
		Coupons:    coupons,
		Ledger:     ledger,
		Reconciler: reconciler,
		Orders:     orderService,
		Payments:   paymentService,
	}, api.HeaderAdminCheck, be.ready)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Warn("Error stopping payment worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func memoryBackends() *backends {
	st := memory.NewStore()
	return &backends{
		inventory: st,
		coupons:   st,
		orders:    st,
		payments:  st,
		degraded:  memory.NewDegradedQueue(),
		idem:      memory.NewIdempotencyCache(),
		locker:    memory.NewLocker(),
	}
}

func postgresBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Redis connected")

	return &backends{
		inventory: db,
		coupons:   db,
		orders:    db,
		payments:  db,
		degraded:  redisClient,
		idem:      redisClient,
		locker:    redisClient,
		ready: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		closers: []func() error{db.Close, redisClient.Close},
	}, nil
}
