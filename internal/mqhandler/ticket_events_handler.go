package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/pkg/logger"
	"baydigital/pkg/mailer"
	"baydigital/pkg/rbac"
	"baydigital/pkg/trace"
	"baydigital/pkg/util"
)

// TicketIndexer 由 service.TicketIndexer 实现
type TicketIndexer interface {
	Index(ctx context.Context, ticketID int64) error
}

// TicketEventsHandler ticket.created / ticket.message.created / ticket.status_changed
// 三个队列共用：更新搜索索引、通知客户、提醒员工
type TicketEventsHandler struct {
	notifier  *Notifier
	indexer   TicketIndexer
	alerter   StaffAlerter
	mail      MailSender
	deduper   *util.Deduper
	retry     retryPolicy
	staffLink string
	logger    *zap.Logger
}

func NewTicketEventsHandler(
	notifier *Notifier,
	indexer TicketIndexer,
	alerter StaffAlerter,
	mail MailSender,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dashboardURL string,
	logger *zap.Logger,
) *TicketEventsHandler {
	return &TicketEventsHandler{
		notifier:  notifier,
		indexer:   indexer,
		alerter:   alerter,
		mail:      mail,
		deduper:   deduper,
		retry:     retryPolicy{counter: retryCounter, logger: logger},
		staffLink: dashboardURL,
		logger:    logger,
	}
}

func ticketLink(id int64) string {
	return "/tickets/" + strconv.FormatInt(id, 10)
}

// HandleCreated 新工单：员工告警 + 索引
func (h *TicketEventsHandler) HandleCreated(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.TicketCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "ticket_created:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger).With(zap.Int64("ticket_id", p.TicketID), zap.String("number", p.Number))
	log.Info("Handling ticket.created")

	id := strconv.FormatInt(p.TicketID, 10)
	text := fmt.Sprintf("New ticket %s [%s/%s] from tenant %d: %s\n%s%s",
		p.Number, p.Category, p.Priority, p.TenantID, p.Subject, h.staffLink, ticketLink(p.TicketID))
	h.alertStaff(ctx, "ticket_created", id, text)
	h.mailStaff(ctx, "ticket_created", id, "New ticket "+p.Number+": "+p.Subject, text)

	return h.index(ctx, util.FormatRetryKey("ticket_created_index", p.TicketID), p.TicketID)
}

// HandleMessage 员工公开回复通知客户；客户回复提醒员工；内部备注只更新索引
func (h *TicketEventsHandler) HandleMessage(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.TicketMessageCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "ticket_message:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("ticket_id", p.TicketID),
		zap.Int64("message_id", p.MessageID),
		zap.String("author_role", p.AuthorRole),
	)
	log.Info("Handling ticket.message.created")

	retryKey := util.FormatRetryKey("ticket_message", p.MessageID)
	indexKey := util.FormatRetryKey("ticket_message_index", p.MessageID)
	if p.Internal {
		return h.index(ctx, indexKey, p.TicketID)
	}

	if rbac.IsAdmin(p.AuthorRole) {
		err := h.notifier.Deliver(ctx, mqcontracts.NotificationCreatedPayload{
			TenantID: p.TenantID,
			Type:     "ticket.reply",
			Title:    "New reply on " + p.Number,
			Body:     fmt.Sprintf("Our team replied to your ticket \"%s\".", p.Subject),
			Link:     ticketLink(p.TicketID),
			DedupKey: "ticket_message:" + strconv.FormatInt(p.MessageID, 10),
			Email:    true,
			TraceID:  p.TraceID,
		})
		if err != nil {
			return h.retry.fail(ctx, retryKey, err)
		}
	} else {
		text := fmt.Sprintf("Customer replied on %s: %s\n%s%s", p.Number, p.Subject, h.staffLink, ticketLink(p.TicketID))
		h.alertStaff(ctx, "ticket_message", strconv.FormatInt(p.MessageID, 10), text)
	}

	h.retry.done(ctx, retryKey)
	return h.index(ctx, indexKey, p.TicketID)
}

// HandleStatusChanged 员工改状态通知客户；客户关闭工单提醒员工
func (h *TicketEventsHandler) HandleStatusChanged(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.TicketStatusChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "ticket_status:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	logger.WithTrace(ctx, h.logger).Info("Handling ticket.status_changed",
		zap.Int64("ticket_id", p.TicketID),
		zap.String("from", p.From),
		zap.String("to", p.To),
	)

	change := fmt.Sprintf("%d:%s:%d", p.TicketID, p.To, p.ChangedAt.UnixNano())
	retryKey := util.FormatRetryKeyFor("ticket_status", change)
	indexKey := util.FormatRetryKeyFor("ticket_status_index", change)

	// 回复引起的状态变化：客户已收到回复通知，员工已收到回复告警
	if p.ViaReply {
		return h.index(ctx, indexKey, p.TicketID)
	}

	dedup := fmt.Sprintf("ticket_status:%d:%s:%d", p.TicketID, p.To, p.ChangedAt.UnixNano())
	if rbac.IsAdmin(p.ChangedByRole) {
		err := h.notifier.Deliver(ctx, mqcontracts.NotificationCreatedPayload{
			TenantID: p.TenantID,
			Type:     "ticket.status",
			Title:    fmt.Sprintf("Ticket %s is now %s", p.Number, statusLabel(p.To)),
			Body:     fmt.Sprintf("Status changed from %s to %s.", statusLabel(p.From), statusLabel(p.To)),
			Link:     ticketLink(p.TicketID),
			DedupKey: dedup,
			TraceID:  p.TraceID,
		})
		if err != nil {
			return h.retry.fail(ctx, retryKey, err)
		}
	} else {
		text := fmt.Sprintf("Customer set %s to %s\n%s%s", p.Number, statusLabel(p.To), h.staffLink, ticketLink(p.TicketID))
		h.alertStaff(ctx, "ticket_status", dedup, text)
	}

	h.retry.done(ctx, retryKey)
	return h.index(ctx, indexKey, p.TicketID)
}

// index 在通知之后执行；搜索不可用时不影响通知，放弃的工单由 dashboardctl search reindex 补齐
func (h *TicketEventsHandler) index(ctx context.Context, retryKey string, ticketID int64) error {
	if err := h.indexer.Index(ctx, ticketID); err != nil {
		return h.retry.softFail(ctx, retryKey, fmt.Errorf("index ticket %d: %w", ticketID, err))
	}
	h.retry.done(ctx, retryKey)
	return nil
}

// alertStaff 告警尽力而为，失败只记录日志
func (h *TicketEventsHandler) alertStaff(ctx context.Context, scope, id, text string) {
	if h.alerter == nil {
		return
	}
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "alert:"+scope, id) {
		return
	}
	if err := h.alerter.Alert(ctx, text); err != nil {
		logger.WithTrace(ctx, h.logger).Warn("Failed to send staff alert", zap.String("scope", scope), zap.Error(err))
		if h.deduper != nil {
			h.deduper.Release(ctx, "alert:"+scope, id)
		}
	}
}

func (h *TicketEventsHandler) mailStaff(ctx context.Context, scope, id, subject, body string) {
	if h.mail == nil || !h.mail.IsConfigured() || len(h.mail.StaffRecipients()) == 0 {
		return
	}
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "staff-email:"+scope, id) {
		return
	}
	err := h.mail.Send(ctx, mailer.Message{To: h.mail.StaffRecipients(), Subject: subject, Body: body})
	if err != nil {
		logger.WithTrace(ctx, h.logger).Warn("Failed to send staff email", zap.String("scope", scope), zap.Error(err))
		if h.deduper != nil {
			h.deduper.Release(ctx, "staff-email:"+scope, id)
		}
	}
}

func withPayloadTrace(ctx context.Context, traceID string) context.Context {
	if traceID != "" && trace.FromContext(ctx) == "" {
		return trace.WithContext(ctx, traceID)
	}
	return ctx
}

var statusLabels = map[string]string{
	"open":                "open",
	"in_progress":         "in progress",
	"waiting_on_customer": "waiting on you",
	"resolved":            "resolved",
	"closed":              "closed",
}

func statusLabel(s string) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s
}
