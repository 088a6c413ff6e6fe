package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentora/config"
	"rentora/cron"
	"rentora/database"
	paymentRepo "rentora/database/repository/payment"
	"rentora/handlers"
	"rentora/middleware"
	"rentora/models"
	"rentora/routes"
	"rentora/services/lease"
	"rentora/services/payment"
	"rentora/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitRedis()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// repositories.
	sessionRepo := paymentRepo.NewMongoPaymentSessionRepo()
	holdRepo := paymentRepo.NewMongoBookingHoldRepo()

	// services.
	leaseStore := lease.NewRedisLeaseStore(utils.GetLeaseClient())
	leaseService := lease.NewLeaseService(leaseStore, logger)

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisTaskDB,
	})
	defer taskClient.Close()

	paymentService := &payment.DefaultPaymentSessionService{
		Repo:     sessionRepo,
		HoldRepo: holdRepo,
		Gateways: payment.GatewayRegistry{
			models.GatewayRazorpay: payment.SandboxGateway{},
			models.GatewayCashfree: payment.SandboxGateway{},
		},
		Cache:  utils.GetSessionCacheClient(),
		Tasks:  taskClient,
		Logger: logger,
		Window: config.PaymentWindow(),
	}

	// Background worker for reconciliation and the stale-session sweep.
	cron.InitPaymentWorker(paymentService, sessionRepo)

	// Periodic dependency health checks.
	utils.StartHealthMonitor(
		[]*redis.Client{utils.GetLeaseClient(), utils.GetSessionCacheClient()},
		database.MongoClient,
	)

	// Assemble the handler bundle and register routes.
	handlerBundle := &routes.HandlerBundle{
		Lease:   handlers.NewLeaseHandler(leaseService),
		Payment: handlers.NewPaymentHandler(paymentService, logger),
	}
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
