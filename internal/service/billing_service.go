package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/integration/payments"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/logger"
	"baydigital/pkg/metrics"
	"baydigital/pkg/outbox"
)

// SubscriptionStore 由 repository.SubscriptionRepository 实现
type SubscriptionStore interface {
	SubscriptionReader
	FindTenantID(ctx context.Context, subscriptionID, customerID string) (int64, error)
	ProcessWebhook(ctx context.Context, evt model.WebhookEvent, change *model.SubscriptionChange, events func(res repository.WebhookResult) []outbox.Message) (repository.WebhookResult, error)
}

// PaymentGateway 由 payments.Stripe 实现
type PaymentGateway interface {
	PriceFor(plan string) (string, bool)
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
	ParseWebhook(payload []byte, signature string) (*payments.Event, error)
}

// EventDeduper Redis 快速去重，由 util.Deduper 实现
type EventDeduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
	Release(ctx context.Context, scope, id string)
}

type BillingService struct {
	subs    SubscriptionStore
	gateway PaymentGateway
	deduper EventDeduper
	logger  *zap.Logger
}

func NewBillingService(subs SubscriptionStore, gateway PaymentGateway, deduper EventDeduper, logger *zap.Logger) *BillingService {
	return &BillingService{subs: subs, gateway: gateway, deduper: deduper, logger: logger}
}

var plans = []string{model.PlanStarter, model.PlanGrowth, model.PlanPro}

func (s *BillingService) GetSubscription(ctx context.Context, actor Actor) (*model.Subscription, error) {
	if actor.TenantID == 0 {
		return nil, ErrNotFound
	}
	return currentSubscription(ctx, s.subs, actor.TenantID)
}

// Checkout 返回 Stripe Checkout 跳转地址
func (s *BillingService) Checkout(ctx context.Context, actor Actor, email, plan string) (string, error) {
	if actor.TenantID == 0 {
		return "", ErrNotFound
	}
	plan = strings.ToLower(strings.TrimSpace(plan))
	if err := oneOf("plan", plan, plans...); err != nil {
		return "", err
	}
	if _, ok := s.gateway.PriceFor(plan); !ok {
		return "", invalid("plan", "is not available")
	}

	sub, err := currentSubscription(ctx, s.subs, actor.TenantID)
	if err != nil {
		return "", err
	}
	if sub.Plan == plan && (sub.Status == model.SubscriptionActive || sub.Status == model.SubscriptionTrialing) {
		return "", fmt.Errorf("%w: already subscribed to %s", ErrConflict, plan)
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		TenantID:   actor.TenantID,
		Plan:       plan,
		CustomerID: sub.StripeCustomerID,
		Email:      email,
	})
	if err != nil {
		return "", &UpstreamError{Provider: "stripe", Err: err}
	}
	return url, nil
}

// Portal 账单门户；还没有 Stripe 客户时返回 ErrConflict
func (s *BillingService) Portal(ctx context.Context, actor Actor) (string, error) {
	if actor.TenantID == 0 {
		return "", ErrNotFound
	}
	sub, err := currentSubscription(ctx, s.subs, actor.TenantID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID == "" {
		return "", fmt.Errorf("%w: no billing account yet", ErrConflict)
	}

	url, err := s.gateway.CreatePortalSession(ctx, sub.StripeCustomerID)
	if err != nil {
		return "", &UpstreamError{Provider: "stripe", Err: err}
	}
	return url, nil
}

type WebhookOutcome struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
}

const webhookDedupScope = "stripe"

// HandleWebhook 验签 → Redis 去重 → 同一事务内记录事件、更新订阅、写 outbox。
// 返回 error 时调用方应回 5xx 让 Stripe 重试，webhook_events 行随事务回滚。
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		metrics.IncrementWebhookEvent("unknown", "invalid")
		if errors.Is(err, payments.ErrInvalidSignature) || errors.Is(err, payments.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, invalid("payload", "malformed event: %v", err)
	}

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type),
	)
	out := &WebhookOutcome{EventID: evt.ID, EventType: evt.Type}

	if s.deduper != nil && !s.deduper.AcquireOnce(ctx, webhookDedupScope, evt.ID) {
		metrics.IncrementWebhookEvent(evt.Type, "duplicate")
		out.Duplicate = true
		return out, nil
	}

	tenantID, err := s.resolveTenant(ctx, evt)
	if err != nil {
		s.release(ctx, evt.ID)
		metrics.IncrementWebhookEvent(evt.Type, "failed")
		return nil, err
	}

	change := subscriptionChange(evt, tenantID)
	record := model.WebhookEvent{EventID: evt.ID, EventType: evt.Type}
	if tenantID != 0 {
		record.TenantID = &tenantID
	}

	res, err := s.subs.ProcessWebhook(ctx, record, change, func(res repository.WebhookResult) []outbox.Message {
		return webhookMessages(ctx, evt, tenantID, res)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			log.Info("Webhook event already processed")
			metrics.IncrementWebhookEvent(evt.Type, "duplicate")
			out.Duplicate = true
			return out, nil
		}
		s.release(ctx, evt.ID)
		metrics.IncrementWebhookEvent(evt.Type, "failed")
		log.Error("Failed to process webhook event", zap.Error(err))
		return nil, fmt.Errorf("process webhook %s: %w", evt.ID, err)
	}

	outcome := "processed"
	switch {
	case tenantID == 0:
		outcome = "ignored"
		out.Ignored = true
		log.Warn("Webhook event has no matching tenant, recorded only")
	case res.Stale:
		outcome = "ignored"
		out.Ignored = true
		log.Info("Ignoring out-of-order subscription event", zap.Int64("tenant_id", tenantID))
	case change == nil && !handledWithoutChange(evt.Type):
		outcome = "ignored"
		out.Ignored = true
	}
	metrics.IncrementWebhookEvent(evt.Type, outcome)

	log.Info("Webhook event handled",
		zap.Int64("tenant_id", tenantID),
		zap.Bool("applied", res.Applied),
		zap.String("outcome", outcome),
	)
	return out, nil
}

func (s *BillingService) release(ctx context.Context, eventID string) {
	if s.deduper != nil {
		s.deduper.Release(ctx, webhookDedupScope, eventID)
	}
}

// resolveTenant 优先使用事件中的 tenant_id，否则按 subscription/customer 反查；找不到返回 0
func (s *BillingService) resolveTenant(ctx context.Context, evt *payments.Event) (int64, error) {
	if evt.TenantID != 0 {
		return evt.TenantID, nil
	}
	if evt.SubscriptionID == "" && evt.CustomerID == "" {
		return 0, nil
	}
	id, err := s.subs.FindTenantID(ctx, evt.SubscriptionID, evt.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("resolve tenant: %w", err)
	}
	return id, nil
}

// subscriptionChange 事件类型 → 订阅行变更；不改变订阅的事件返回 nil
func subscriptionChange(evt *payments.Event, tenantID int64) *model.SubscriptionChange {
	if tenantID == 0 {
		return nil
	}
	c := &model.SubscriptionChange{
		TenantID:             tenantID,
		StripeCustomerID:     evt.CustomerID,
		StripeSubscriptionID: evt.SubscriptionID,
		Plan:                 evt.Plan,
		EventAt:              evt.Created,
	}

	switch evt.Type {
	case payments.EventCheckoutCompleted:
		c.Status = model.SubscriptionActive
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		c.Status = payments.MapStatus(evt.VendorStatus)
		c.CurrentPeriodEnd = evt.CurrentPeriodEnd
		c.CancelAtPeriodEnd = evt.CancelAtPeriodEnd
	case payments.EventSubscriptionDeleted:
		c.Status = model.SubscriptionCanceled
		c.CurrentPeriodEnd = evt.CurrentPeriodEnd
		c.CancelAtPeriodEnd = evt.CancelAtPeriodEnd
	case payments.EventInvoicePaymentFailed:
		c.Status = model.SubscriptionPastDue
		c.Plan = ""
	default:
		return nil
	}
	return c
}

func handledWithoutChange(eventType string) bool {
	return eventType == payments.EventInvoicePaid
}

// webhookMessages 与订阅变更同一事务写入的 outbox 事件
func webhookMessages(ctx context.Context, evt *payments.Event, tenantID int64, res repository.WebhookResult) []outbox.Message {
	if tenantID == 0 || res.Stale {
		return nil
	}

	var msgs []outbox.Message
	if res.Applied && res.Current != nil {
		prevStatus := model.SubscriptionNone
		if res.Previous != nil {
			prevStatus = res.Previous.Status
		}
		subID := res.Current.ID
		msgs = append(msgs, outbox.Message{
			AggregateType: mqcontracts.AggregateSubscription,
			AggregateID:   &subID,
			RoutingKey:    mqcontracts.RoutingSubscriptionUpdated,
			Payload: mqcontracts.SubscriptionUpdatedPayload{
				TenantID:         tenantID,
				Plan:             res.Current.Plan,
				Status:           res.Current.Status,
				PreviousStatus:   prevStatus,
				EventID:          evt.ID,
				EventType:        evt.Type,
				CurrentPeriodEnd: res.Current.CurrentPeriodEnd,
			},
		})
	}

	n := notificationSpec{DedupKey: "stripe:" + evt.ID, Link: "/billing"}
	switch evt.Type {
	case payments.EventCheckoutCompleted:
		n.Type, n.Title = "billing.activated", "Subscription activated"
		n.Body = fmt.Sprintf("Your %s plan is now active.", planName(res))
	case payments.EventSubscriptionDeleted:
		n.Type, n.Title = "billing.canceled", "Subscription canceled"
		n.Body = "Your subscription has been canceled. You can resubscribe at any time from Billing."
		n.Email = true
	case payments.EventInvoicePaymentFailed:
		n.Type, n.Title = "billing.payment_failed", "Payment failed"
		n.Body = fmt.Sprintf("We could not collect %s. Please update your payment method.", formatAmount(evt.AmountCents, evt.Currency))
		n.Email = true
	case payments.EventInvoicePaid:
		n.Type, n.Title = "billing.payment_received", "Payment received"
		n.Body = fmt.Sprintf("Thanks! We received your payment of %s.", formatAmount(evt.AmountCents, evt.Currency))
	default:
		return msgs
	}
	return append(msgs, notificationMessage(ctx, tenantID, n))
}

func planName(res repository.WebhookResult) string {
	if res.Current != nil && res.Current.Plan != "" {
		return res.Current.Plan
	}
	return "new"
}

func formatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "usd"
	}
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}
