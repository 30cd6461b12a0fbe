package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/config"
	"baydigital/internal/mqhandler"
	"baydigital/internal/realtime"
	"baydigital/internal/repository"
	"baydigital/internal/scheduler"
	"baydigital/internal/service"
	"baydigital/pkg/db"
	"baydigital/pkg/logger"
	"baydigital/pkg/mailer"
	"baydigital/pkg/mq"
	"baydigital/pkg/otel"
	"baydigital/pkg/outbox"
	redisclient "baydigital/pkg/redis"
	"baydigital/pkg/search"
	"baydigital/pkg/telegram"
	"baydigital/pkg/util"
)

// consumerSpec 一个队列绑定一个 routing key
type consumerSpec struct {
	queue      string
	routingKey string
	handle     mq.MessageHandler
}

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	shutdownTracing, err := otel.Init(cfg.Tracing, "baydigital-worker", log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting worker service...", zap.String("db_host", cfg.DB.Host))

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	meili := search.NewMeili(cfg.Search.URL, cfg.Search.APIKey, log)
	defer meili.Close()

	var tgClient telegram.Client
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram)
		if err != nil {
			log.Warn("Telegram bot unavailable, staff alerts go to log only", zap.Error(err))
		} else {
			tgClient = telegram.NewTelebotAdapter(bot)
		}
	}
	alerter := telegram.NewStaffAlerter(tgClient, cfg.Telegram.StaffChatID, log)
	mail := mailer.New(cfg.SMTP)
	if !mail.IsConfigured() {
		log.Warn("SMTP not configured, e-mail delivery disabled")
	}

	deduper := util.NewDeduperWithLogger(rdb, time.Duration(cfg.Worker.DedupTTLHours)*time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, 24*time.Hour)
	hub := realtime.NewHub(rdb, log)

	// Repositories
	accountRepo := repository.NewAccountRepository(dbConn, log)
	ticketRepo := repository.NewTicketRepository(dbConn, log)
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	socialRepo := repository.NewSocialPostRepository(dbConn, log)
	outboxRepo := outbox.NewRepository(dbConn)

	// Services
	indexer := service.NewTicketIndexer(ticketRepo, meili, log)
	socialService := service.NewSocialService(socialRepo, log)

	// Handlers
	notifier := mqhandler.NewNotifier(notificationRepo, hub, mail, accountRepo, deduper, log)
	notificationHandler := mqhandler.NewNotificationCreatedHandler(notifier, retryCounter, log)
	ticketHandler := mqhandler.NewTicketEventsHandler(notifier, indexer, alerter, mail, deduper, retryCounter, cfg.Server.DashboardURL, log)
	subscriptionHandler := mqhandler.NewSubscriptionUpdatedHandler(hub, alerter, deduper, retryCounter, log)
	socialHandler := mqhandler.NewSocialPostPublishedHandler(notifier, alerter, deduper, retryCounter, log)
	formHandler := mqhandler.NewFormSubmittedHandler(notifier, retryCounter, log)
	emailHandler := mqhandler.NewEmailRequestedHandler(mail, accountRepo, deduper, retryCounter, log)

	specs := []consumerSpec{
		{"notification.created.q", mqcontracts.RoutingNotificationCreated, notificationHandler.Handle},
		{"ticket.created.q", mqcontracts.RoutingTicketCreated, ticketHandler.HandleCreated},
		{"ticket.message.created.q", mqcontracts.RoutingTicketMessage, ticketHandler.HandleMessage},
		{"ticket.status_changed.q", mqcontracts.RoutingTicketStatusChanged, ticketHandler.HandleStatusChanged},
		{"subscription.updated.q", mqcontracts.RoutingSubscriptionUpdated, subscriptionHandler.Handle},
		{"social_post.published.q", mqcontracts.RoutingSocialPostPublished, socialHandler.Handle},
		{"form.submitted.q", mqcontracts.RoutingFormSubmitted, formHandler.Handle},
		{"email.requested.q", mqcontracts.RoutingEmailRequested, emailHandler.Handle},
	}

	consumers := make([]*mq.Consumer, 0, len(specs))
	for _, spec := range specs {
		log.Info("Initializing MQ consumer...",
			zap.String("queue", spec.queue),
			zap.String("routing_key", spec.routingKey),
		)
		consumer, err := mq.NewConsumer(cfg.MQ.URL, spec.queue, spec.routingKey, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("queue", spec.queue), zap.Error(err))
		}
		consumer.SetHandler(spec.handle)
		consumers = append(consumers, consumer)

		go func(c *mq.Consumer, queue string) {
			if err := c.StartConsuming(); err != nil {
				log.Fatal("Consumer failed", zap.String("queue", queue), zap.Error(err))
			}
		}(consumer, spec.queue)
	}

	// Outbox Dispatcher
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(time.Duration(cfg.Worker.OutboxIntervalSeconds) * time.Second).
		WithBatchSize(cfg.Worker.OutboxBatchSize).
		WithMaxRetries(cfg.Worker.OutboxMaxRetries)
	go dispatcher.Start(ctx)

	// 定时发布社交帖子
	postScheduler := scheduler.NewPostScheduler(socialService, cfg.Worker.PublishSpec, log)
	if err := postScheduler.Start(); err != nil {
		log.Fatal("Failed to start post scheduler", zap.Error(err))
	}

	// 健康检查与指标
	gin.SetMode(gin.ReleaseMode)
	health := gin.New()
	health.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	health.GET("/readyz", func(c *gin.Context) {
		for _, consumer := range consumers {
			if !consumer.IsConnected() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	health.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: ":9091", Handler: health, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health server failed", zap.Error(err))
		}
	}()

	log.Info("All consumers started, worker is ready to process messages", zap.Int("consumers", len(consumers)))

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker gracefully...")

	postScheduler.Stop()
	cancel()

	log.Info("Stopping MQ consumers...")
	for _, consumer := range consumers {
		consumer.Stop()
		consumer.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info("Worker shutdown complete")
}
