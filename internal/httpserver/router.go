package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"baydigital/internal/handler"
	"baydigital/pkg/otel"
	"baydigital/pkg/rbac"
)

// Pinger readiness 探针依赖，*pgxpool.Pool 满足
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers 所有 HTTP handler，由 cmd/api 组装
type Handlers struct {
	Auth          *handler.AuthHandler
	Account       *handler.AccountHandler
	Billing       *handler.BillingHandler
	Tickets       *handler.TicketHandler
	Notifications *handler.NotificationHandler
	Social        *handler.SocialHandler
	Content       *handler.ContentHandler
	Images        *handler.ImageHandler
	Uploads       *handler.UploadHandler
	Forms         *handler.FormHandler
	Admin         *handler.AdminHandler
}

type Options struct {
	JWTSecret  string
	CORSOrigin string
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, opts Options, db Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		TraceMiddleware(),
		otel.GinMiddleware(),
		AccessLogMiddleware(logger),
		MetricsMiddleware(),
		CORSMiddleware(opts.CORSOrigin),
	)

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/auth/register", h.Auth.Register)
	r.POST("/auth/login", h.Auth.Login)
	r.POST("/webhooks/stripe", h.Billing.Webhook)
	r.POST("/public/forms/:site_key", h.Forms.Submit)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(opts.JWTSecret))
	{
		auth.GET("/me", h.Auth.Me)

		auth.GET("/account", h.Account.Get)
		auth.PATCH("/account", RequirePermission(rbac.PermissionManageAccount), h.Account.Update)

		billing := auth.Group("/billing", RequirePermission(rbac.PermissionManageBilling))
		billing.GET("/subscription", h.Billing.Subscription)
		billing.POST("/checkout", h.Billing.Checkout)
		billing.POST("/portal", h.Billing.Portal)

		auth.POST("/tickets", RequirePermission(rbac.PermissionCreateTicket), h.Tickets.Create)
		auth.GET("/tickets", h.Tickets.List)
		auth.GET("/tickets/search", h.Tickets.Search)
		auth.GET("/tickets/:id", h.Tickets.Get)
		auth.POST("/tickets/:id/messages", RequirePermission(rbac.PermissionReplyTicket), h.Tickets.Reply)
		auth.PATCH("/tickets/:id/status", RequirePermission(rbac.PermissionCloseTicket), h.Tickets.UpdateStatus)

		auth.GET("/notifications", h.Notifications.List)
		auth.GET("/notifications/stream", h.Notifications.Stream)
		auth.POST("/notifications/read-all", h.Notifications.MarkAllRead)
		auth.POST("/notifications/:id/read", h.Notifications.MarkRead)
		auth.DELETE("/notifications/:id", h.Notifications.Delete)

		social := auth.Group("/social/posts", RequirePermission(rbac.PermissionManagePosts))
		social.POST("", h.Social.Create)
		social.GET("", h.Social.List)
		social.GET("/:id", h.Social.Get)
		social.PATCH("/:id", h.Social.Update)
		social.DELETE("/:id", h.Social.Cancel)

		ai := auth.Group("/ai", RequirePermission(rbac.PermissionGenerateAI))
		ai.POST("/generate", h.Content.Generate)
		ai.GET("/quota", h.Content.Quota)
		ai.GET("/generations", h.Content.History)

		auth.GET("/images/search", h.Images.Search)

		auth.POST("/uploads", RequirePermission(rbac.PermissionUpload), h.Uploads.Upload)
		auth.GET("/uploads/url", h.Uploads.URL)

		forms := auth.Group("/forms/submissions", RequirePermission(rbac.PermissionReadForms))
		forms.GET("", h.Forms.List)
		forms.PATCH("/:id", h.Forms.UpdateStatus)

		admin := auth.Group("/admin")
		admin.GET("/tenants", RequirePermission(rbac.PermissionViewAllTenants), h.Admin.ListTenants)
		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayFailedEvents)
		admin.GET("/outbox/failed", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ListFailedEvents)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
