package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/service"
	"baydigital/pkg/logger"
)

const maxWebhookBody = 64 << 10

type BillingService interface {
	GetSubscription(ctx context.Context, actor service.Actor) (*model.Subscription, error)
	Checkout(ctx context.Context, actor service.Actor, email, plan string) (string, error)
	Portal(ctx context.Context, actor service.Actor) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*service.WebhookOutcome, error)
}

// EmailLookup checkout 时预填客户邮箱
type EmailLookup interface {
	Me(ctx context.Context, userID int64) (*service.Profile, error)
}

type BillingHandler struct {
	billing BillingService
	users   EmailLookup
	logger  *zap.Logger
}

func NewBillingHandler(billing BillingService, users EmailLookup, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, users: users, logger: logger}
}

// Subscription GET /billing/subscription
func (h *BillingHandler) Subscription(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	sub, err := h.billing.GetSubscription(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Checkout POST /billing/checkout
func (h *BillingHandler) Checkout(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req struct {
		Plan string `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	var email string
	if h.users != nil {
		if p, err := h.users.Me(c.Request.Context(), actor.UserID); err == nil && p.User != nil {
			email = p.User.Email
		}
	}

	url, err := h.billing.Checkout(c.Request.Context(), actor, email, req.Plan)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Portal POST /billing/portal
func (h *BillingHandler) Portal(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	url, err := h.billing.Portal(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Webhook POST /webhooks/stripe
// 验签失败 400；处理失败 500，Stripe 会重试
func (h *BillingHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		badRequest(c, "failed to read body")
		return
	}

	out, err := h.billing.HandleWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			logger.WithTrace(c.Request.Context(), h.logger).Warn("Rejected webhook with invalid signature",
				zap.String("client_ip", c.ClientIP()),
			)
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"duplicate": out.Duplicate,
	})
}
