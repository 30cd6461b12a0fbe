package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/pkg/logger"
	"baydigital/pkg/util"
)

// SubscriptionUpdatedHandler subscription.updated：推送给已打开的仪表盘，欠费/取消时提醒员工
// 客户通知已由 webhook 在同一事务内写入 outbox
type SubscriptionUpdatedHandler struct {
	realtime RealtimePublisher
	alerter  StaffAlerter
	deduper  *util.Deduper
	retry    retryPolicy
	logger   *zap.Logger
}

func NewSubscriptionUpdatedHandler(realtime RealtimePublisher, alerter StaffAlerter, deduper *util.Deduper, retryCounter *util.RetryCounter, logger *zap.Logger) *SubscriptionUpdatedHandler {
	return &SubscriptionUpdatedHandler{
		realtime: realtime,
		alerter:  alerter,
		deduper:  deduper,
		retry:    retryPolicy{counter: retryCounter, logger: logger},
		logger:   logger,
	}
}

func (h *SubscriptionUpdatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.SubscriptionUpdatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "subscription:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("tenant_id", p.TenantID),
		zap.String("event_id", p.EventID),
		zap.String("status", p.Status),
		zap.String("previous_status", p.PreviousStatus),
	)
	log.Info("Handling subscription.updated")

	retryKey := util.FormatRetryKeyFor("subscription", p.EventID)
	if err := h.realtime.Publish(ctx, p.TenantID, mqcontracts.RoutingSubscriptionUpdated, nil, map[string]any{
		"plan":               p.Plan,
		"status":             p.Status,
		"current_period_end": p.CurrentPeriodEnd,
	}); err != nil {
		return h.retry.fail(ctx, retryKey, err)
	}

	if p.Status != p.PreviousStatus && (p.Status == model.SubscriptionPastDue || p.Status == model.SubscriptionCanceled) {
		h.alert(ctx, log, p)
	}

	h.retry.done(ctx, retryKey)
	return nil
}

func (h *SubscriptionUpdatedHandler) alert(ctx context.Context, log *zap.Logger, p mqcontracts.SubscriptionUpdatedPayload) {
	if h.alerter == nil {
		return
	}
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "alert:subscription", p.EventID) {
		return
	}
	text := fmt.Sprintf("Tenant %d subscription %s -> %s (plan %s, %s)", p.TenantID, p.PreviousStatus, p.Status, p.Plan, p.EventType)
	if err := h.alerter.Alert(ctx, text); err != nil {
		log.Warn("Failed to send staff alert", zap.Error(err))
		if h.deduper != nil {
			h.deduper.Release(ctx, "alert:subscription", p.EventID)
		}
	}
}
