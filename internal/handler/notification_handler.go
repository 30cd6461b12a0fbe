package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/realtime"
	"baydigital/internal/service"
	"baydigital/pkg/logger"
)

const defaultHeartbeat = 25 * time.Second

type NotificationService interface {
	List(ctx context.Context, actor service.Actor, unreadOnly bool, limit, offset int) (*service.NotificationList, error)
	MarkRead(ctx context.Context, actor service.Actor, id int64) error
	MarkAllRead(ctx context.Context, actor service.Actor) (int64, error)
	Delete(ctx context.Context, actor service.Actor, id int64) error
}

// RealtimeSubscriber 由 realtime.Hub 实现
type RealtimeSubscriber interface {
	Subscribe(ctx context.Context, tenantID int64) (*realtime.Subscription, error)
}

type NotificationHandler struct {
	notifications NotificationService
	hub           RealtimeSubscriber
	heartbeat     time.Duration
	logger        *zap.Logger
}

func NewNotificationHandler(notifications NotificationService, hub RealtimeSubscriber, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		hub:           hub,
		heartbeat:     defaultHeartbeat,
		logger:        logger,
	}
}

// WithHeartbeat 覆盖 SSE 心跳间隔
func (h *NotificationHandler) WithHeartbeat(d time.Duration) *NotificationHandler {
	h.heartbeat = d
	return h
}

// List GET /notifications?unread=true&limit=&offset=
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	list, err := h.notifications.List(c.Request.Context(), actor, c.Query("unread") == "true", limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Delete DELETE /notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream GET /notifications/stream
// Server-Sent Events：转发租户频道中对当前用户可见的事件，定期发送心跳注释
func (h *NotificationHandler) Stream(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if actor.TenantID == 0 {
		badRequest(c, "account has no tenant")
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("tenant_id", actor.TenantID),
		zap.Int64("user_id", actor.UserID),
	)

	sub, err := h.hub.Subscribe(ctx, actor.TenantID)
	if err != nil {
		log.Error("Failed to subscribe realtime channel", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	defer sub.Close()

	// 长连接不受 server WriteTimeout 限制
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	_, _ = io.WriteString(c.Writer, ": connected\n\n")
	c.Writer.Flush()
	log.Debug("Realtime stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Realtime stream closed by client")
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if !evt.VisibleTo(actor.UserID) {
				continue
			}
			c.SSEvent(evt.Type, evt.Data)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
