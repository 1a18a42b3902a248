package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkout/internal/config"
	"checkout/internal/consumer"
	"checkout/internal/database"
	"checkout/internal/handler"
	"checkout/internal/middleware"
	"checkout/internal/monitor"
	"checkout/internal/redis"
	"checkout/internal/repository"
	"checkout/internal/service/balance"
	"checkout/internal/service/coupon"
	"checkout/internal/service/idempotency"
	"checkout/internal/service/inventory"
	"checkout/internal/service/order"
	"checkout/internal/service/outbox"
	"checkout/internal/service/saga"
	"checkout/pkg/lock"
	"checkout/pkg/log"
	"checkout/pkg/queue"
	"checkout/pkg/snowflake"
	"checkout/pkg/utils"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	if err := log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		log.WithError(err).Fatal("Failed to initialize logging")
	}

	if err := database.Init(cfg); err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database schema")
	}

	if err := redis.Init(cfg); err != nil {
		log.WithError(err).Fatal("Failed to initialize redis")
	}
	defer redis.Close()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	idGenerator, err := snowflake.NewIDGenerator(1)
	if err != nil {
		log.WithError(err).Fatal("Failed to create ID generator")
	}

	metrics := monitor.NewMetricsCollector()

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create tracer")
	}

	messageQueue := queue.NewMemoryMessageQueue()
	defer messageQueue.Close()

	locks := lock.NewService(redis.GetClient(), cfg.Lock.KeyPrefix)

	// repositories
	sagaRepo := repository.NewSagaRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// services
	publisher := outbox.NewPublisher(outboxRepo)
	orderService := order.NewOrderService(db, orderRepo, publisher, idGenerator)
	balanceService := balance.NewBalanceService(db, balanceRepo)
	inventoryService := inventory.NewInventoryService(
		db, inventoryRepo, reservationRepo, idGenerator, metrics,
		cfg.Inventory.ReservationTTL, cfg.Inventory.ExpiryBatch)
	couponService := coupon.NewCouponService(
		db, couponRepo, locks, publisher,
		cfg.Lock.WaitTime, cfg.Lock.HoldTime)
	idempotencyService, err := idempotency.NewService(
		idempotencyRepo, metrics,
		cfg.Idempotency.ZombieTimeout, cfg.Idempotency.KeyTTL, cfg.Idempotency.CacheTTL)
	if err != nil {
		log.WithError(err).Fatal("Failed to create idempotency service")
	}

	steps := saga.NewSteps(orderService, balanceService, inventoryService, couponService)
	orchestrator := saga.NewOrchestrator(sagaRepo, steps, metrics, tracer)
	sagaService := saga.NewService(
		orchestrator, sagaRepo, idempotencyService, inventoryService,
		locks, cfg.Lock.WaitTime, cfg.Lock.HoldTime,
		idGenerator, metrics, cfg.Saga.MaxRetryCount)
	recovery := saga.NewRecovery(
		sagaService, orderService,
		cfg.Saga.RecoveryCooldown, cfg.Saga.RecoveryBatchSize, cfg.Saga.RetentionWindow)

	relay := outbox.NewRelay(outboxRepo, messageQueue, metrics, cfg.Queue.OutboxTopic, cfg.Outbox.RelayBatch)

	couponConsumer := consumer.NewCouponConsumer(
		couponService, messageQueue, db, publisher, cfg.Queue.CouponIssueTopic)

	// background workers stop with this context on shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go inventoryService.StartExpiryJob(ctx, cfg.Inventory.ExpiryInterval)
	go idempotencyService.StartZombieSweep(ctx, cfg.Idempotency.SweepInterval)
	go idempotencyService.StartPurge(ctx, cfg.Idempotency.SweepInterval)
	go recovery.StartRecoveryLoop(ctx, cfg.Saga.RecoveryInterval)
	go recovery.StartPurgeLoop(ctx, cfg.Saga.PurgeInterval)
	go relay.Start(ctx, cfg.Outbox.RelayInterval)
	couponConsumer.Start(ctx)

	router := setupRouter(cfg, metrics, sagaService)

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr": server.Addr,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")
	couponConsumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down tracer")
	}

	log.Info("Server exited")
}

func setupRouter(cfg *config.Config, metrics *monitor.MetricsCollector, sagaService *saga.Service) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.Metrics(metrics))
	if cfg.Security.CORS.Enabled {
		router.Use(middleware.CORS(&cfg.Security))
	}

	healthHandler := handler.NewHealthHandler()
	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	jwtManager := utils.NewJWTManager(
		cfg.Security.JWT.Secret,
		cfg.Security.JWT.Issuer,
		cfg.Security.JWT.Expire,
	)

	checkoutHandler := handler.NewCheckoutHandler(sagaService)

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		v1.Use(middleware.Auth(jwtManager))
		{
			checkoutGroup := v1.Group("")
			if cfg.RateLimit.Enabled {
				checkoutGroup.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
			}
			checkoutGroup.POST("/checkout", checkoutHandler.Checkout)

			v1.GET("/sagas/progress/:order_no", checkoutHandler.GetProgress)
			v1.GET("/sagas/stuck", checkoutHandler.GetStuckSagas)
		}
	}

	return router
}
