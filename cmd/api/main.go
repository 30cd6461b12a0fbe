package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"baydigital/internal/config"
	"baydigital/internal/handler"
	"baydigital/internal/httpserver"
	"baydigital/internal/integration/llm"
	"baydigital/internal/integration/payments"
	"baydigital/internal/integration/unsplash"
	"baydigital/internal/realtime"
	"baydigital/internal/repository"
	"baydigital/internal/service"
	"baydigital/pkg/db"
	"baydigital/pkg/logger"
	"baydigital/pkg/mq"
	"baydigital/pkg/otel"
	"baydigital/pkg/outbox"
	redisclient "baydigital/pkg/redis"
	"baydigital/pkg/search"
	"baydigital/pkg/storage"
	"baydigital/pkg/util"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	shutdownTracing, err := otel.Init(cfg.Tracing, "baydigital-api", log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting baydigital API...",
		zap.String("port", cfg.Server.Port),
		zap.String("db_host", cfg.DB.Host),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisclient.Ping(pingCtx, rdb); err != nil {
		log.Warn("Redis not reachable at startup", zap.Error(err))
	}
	pingCancel()

	// MQ publisher，仅用于管理员重放 outbox
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// 外部服务
	meili := search.NewMeili(cfg.Search.URL, cfg.Search.APIKey, log)
	defer meili.Close()

	objects, err := storage.NewClient(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to init object storage", zap.Error(err))
	}
	bucketCtx, bucketCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := objects.EnsureBucket(bucketCtx); err != nil {
		log.Warn("Storage bucket check failed, uploads may be unavailable", zap.Error(err))
	}
	bucketCancel()

	stripe := payments.NewStripe(cfg.Stripe, cfg.Server.DashboardURL, log)
	llmClient := llm.NewClient(cfg.LLM, log)
	unsplashClient := unsplash.NewClient(cfg.Unsplash, log)

	// Redis 工具
	deduper := util.NewDeduperWithLogger(rdb, time.Duration(cfg.Worker.DedupTTLHours)*time.Hour, log)
	limiter := util.NewLimiter(rdb)
	hub := realtime.NewHub(rdb, log)

	// Repositories
	accountRepo := repository.NewAccountRepository(dbConn, log)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn, log)
	ticketRepo := repository.NewTicketRepository(dbConn, log)
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	socialRepo := repository.NewSocialPostRepository(dbConn, log)
	generationRepo := repository.NewGenerationRepository(dbConn, log)
	formRepo := repository.NewFormRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	// Services
	authService := service.NewAuthService(accountRepo, cfg.JWT.Secret, time.Duration(cfg.JWT.TTLHours)*time.Hour, cfg.Server.DashboardURL, log)
	accountService := service.NewAccountService(accountRepo, subscriptionRepo, log)
	adminService := service.NewAdminService(accountRepo)
	billingService := service.NewBillingService(subscriptionRepo, stripe, deduper, log)
	ticketService := service.NewTicketService(ticketRepo, meili, log)
	notificationService := service.NewNotificationService(notificationRepo, log)
	socialService := service.NewSocialService(socialRepo, log)
	contentService := service.NewContentService(llmClient, limiter, generationRepo, subscriptionRepo, log)
	imageService := service.NewImageService(unsplashClient, rdb, log)
	uploadService := service.NewUploadService(objects, log)
	formService := service.NewFormService(formRepo, accountRepo, limiter, log)
	replayService := outbox.NewReplayService(outboxRepo, publisher, log)

	// Handlers
	handlers := httpserver.Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		Account:       handler.NewAccountHandler(accountService, log),
		Billing:       handler.NewBillingHandler(billingService, authService, log),
		Tickets:       handler.NewTicketHandler(ticketService, log),
		Notifications: handler.NewNotificationHandler(notificationService, hub, log),
		Social:        handler.NewSocialHandler(socialService, log),
		Content:       handler.NewContentHandler(contentService, log),
		Images:        handler.NewImageHandler(imageService, log),
		Uploads:       handler.NewUploadHandler(uploadService, log),
		Forms:         handler.NewFormHandler(formService, log),
		Admin:         handler.NewAdminHandler(replayService, adminService, log),
	}

	router := httpserver.NewRouter(handlers, httpserver.Options{
		JWTSecret:  cfg.JWT.Secret,
		CORSOrigin: cfg.Server.CORSOrigin,
	}, dbConn, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API gracefully...")

	// SSE 连接是长连接，Shutdown 超时后强制关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown timed out, closing", zap.Error(err))
		_ = srv.Close()
	}

	log.Info("API shutdown complete")
}
