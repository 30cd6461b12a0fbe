package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/pkg/logger"
	"baydigital/pkg/mailer"
	"baydigital/pkg/util"
)

// NotificationWriter 由 repository.NotificationRepository 实现；dedup_key 冲突返回 false
type NotificationWriter interface {
	Insert(ctx context.Context, n *model.Notification) (bool, error)
}

// RealtimePublisher 由 realtime.Hub 实现
type RealtimePublisher interface {
	Publish(ctx context.Context, tenantID int64, eventType string, userID *int64, data any) error
}

// MailSender 由 mailer.Mailer 实现
type MailSender interface {
	IsConfigured() bool
	Send(ctx context.Context, msg mailer.Message) error
	StaffRecipients() []string
}

// RecipientLookup 由 repository.AccountRepository 实现
type RecipientLookup interface {
	TenantEmails(ctx context.Context, tenantID int64) ([]string, error)
}

// StaffAlerter 由 telegram.StaffAlerter 实现
type StaffAlerter interface {
	Alert(ctx context.Context, text string) error
}

// Notifier 站内通知落库 + SSE 推送 + 可选邮件
type Notifier struct {
	store      NotificationWriter
	realtime   RealtimePublisher
	mail       MailSender
	recipients RecipientLookup
	deduper    *util.Deduper
	logger     *zap.Logger
}

func NewNotifier(
	store NotificationWriter,
	realtime RealtimePublisher,
	mail MailSender,
	recipients RecipientLookup,
	deduper *util.Deduper,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		store:      store,
		realtime:   realtime,
		mail:       mail,
		recipients: recipients,
		deduper:    deduper,
		logger:     logger,
	}
}

// Deliver 幂等：相同 dedup_key 第二次只跳过，不会重复推送和发信
func (n *Notifier) Deliver(ctx context.Context, p mqcontracts.NotificationCreatedPayload) error {
	log := logger.WithTrace(ctx, n.logger).With(
		zap.Int64("tenant_id", p.TenantID),
		zap.String("type", p.Type),
		zap.String("dedup_key", p.DedupKey),
	)

	notif := &model.Notification{
		TenantID: p.TenantID,
		UserID:   p.UserID,
		Type:     p.Type,
		Title:    p.Title,
		Body:     p.Body,
		Link:     p.Link,
		DedupKey: p.DedupKey,
	}
	inserted, err := n.store.Insert(ctx, notif)
	if err != nil {
		return err
	}
	if !inserted {
		log.Info("Notification already delivered, skip")
		return nil
	}

	// 推送失败不回滚：客户端重连后会重新拉列表
	if n.realtime != nil {
		if err := n.realtime.Publish(ctx, p.TenantID, mqcontracts.RoutingNotificationCreated, p.UserID, notif); err != nil {
			log.Warn("Failed to push realtime notification", zap.Error(err))
		}
	}

	if p.Email {
		if err := n.email(ctx, p); err != nil {
			log.Warn("Failed to send notification email", zap.Error(err))
		}
	}

	log.Info("Notification delivered", zap.Int64("notification_id", notif.ID))
	return nil
}

func (n *Notifier) email(ctx context.Context, p mqcontracts.NotificationCreatedPayload) error {
	if n.mail == nil || !n.mail.IsConfigured() || n.recipients == nil {
		return nil
	}
	scope := "notify-email"
	if n.deduper != nil && p.DedupKey != "" && !n.deduper.AcquireOnce(ctx, scope, p.DedupKey) {
		return nil
	}

	to, err := n.recipients.TenantEmails(ctx, p.TenantID)
	if err != nil {
		n.release(ctx, scope, p.DedupKey)
		return err
	}
	if len(to) == 0 {
		return nil
	}

	body := p.Body
	if p.Link != "" {
		body += "\n\n" + p.Link
	}
	if err := n.mail.Send(ctx, mailer.Message{To: to, Subject: p.Title, Body: body}); err != nil {
		n.release(ctx, scope, p.DedupKey)
		return err
	}
	return nil
}

func (n *Notifier) release(ctx context.Context, scope, id string) {
	if n.deduper != nil && id != "" {
		n.deduper.Release(ctx, scope, id)
	}
}

// NotificationCreatedHandler notification.created
type NotificationCreatedHandler struct {
	notifier *Notifier
	retry    retryPolicy
	logger   *zap.Logger
}

func NewNotificationCreatedHandler(notifier *Notifier, retryCounter *util.RetryCounter, logger *zap.Logger) *NotificationCreatedHandler {
	return &NotificationCreatedHandler{
		notifier: notifier,
		retry:    retryPolicy{counter: retryCounter, logger: logger},
		logger:   logger,
	}
}

func (h *NotificationCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.NotificationCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Invalid NotificationCreatedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return h.retry.fail(ctx, "notification:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	if p.TenantID == 0 {
		return h.retry.fail(ctx, "notification:bad_payload", fmt.Errorf("bad_payload: missing tenant_id"))
	}

	key := util.FormatRetryKeyFor("notification", p.DedupKey)
	if err := h.notifier.Deliver(ctx, p); err != nil {
		return h.retry.fail(ctx, key, err)
	}
	h.retry.done(ctx, key)
	return nil
}
