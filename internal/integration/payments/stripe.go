package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/config"
	"baydigital/pkg/metrics"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrNotConfigured    = errors.New("stripe is not configured")
)

// Stripe 支付处理器客户端：Checkout、账单门户、webhook 验签
type Stripe struct {
	api           *client.API
	webhookSecret string
	prices        map[string]string // plan → price id
	plans         map[string]string // price id → plan
	dashboardURL  string
	logger        *zap.Logger
}

func NewStripe(cfg config.StripeConfig, dashboardURL string, logger *zap.Logger) *Stripe {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	plans := make(map[string]string, len(cfg.Prices))
	for plan, price := range cfg.Prices {
		plans[price] = plan
	}

	return &Stripe{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		prices:        cfg.Prices,
		plans:         plans,
		dashboardURL:  dashboardURL,
		logger:        logger,
	}
}

// PriceFor plan → price id
func (s *Stripe) PriceFor(plan string) (string, bool) {
	price, ok := s.prices[plan]
	return price, ok && price != ""
}

// PlanForPrice price id → plan，未知价格返回空串
func (s *Stripe) PlanForPrice(priceID string) string {
	return s.plans[priceID]
}

type CheckoutRequest struct {
	TenantID   int64
	Plan       string
	CustomerID string // 已有客户时复用
	Email      string
}

// CreateCheckoutSession 创建订阅模式的 Checkout 会话，返回跳转 URL
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	price, ok := s.PriceFor(req.Plan)
	if !ok {
		return "", ErrUnknownPlan
	}

	tenant := strconv.FormatInt(req.TenantID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(tenant),
		SuccessURL:        stripe.String(s.dashboardURL + "/billing?checkout=success"),
		CancelURL:         stripe.String(s.dashboardURL + "/billing?checkout=cancelled"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"tenant_id": tenant, "plan": req.Plan},
		},
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", tenant)
	params.AddMetadata("plan", req.Plan)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	start := time.Now()
	sess, err := s.api.CheckoutSessions.New(params)
	metrics.RecordExternalCall("stripe", statusLabel(err), time.Since(start))
	if err != nil {
		s.logger.Error("Failed to create checkout session",
			zap.Int64("tenant_id", req.TenantID),
			zap.String("plan", req.Plan),
			zap.Error(err),
		)
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("Checkout session created",
		zap.Int64("tenant_id", req.TenantID),
		zap.String("plan", req.Plan),
		zap.String("session_id", sess.ID),
	)
	return sess.URL, nil
}

// CreatePortalSession 账单门户会话
func (s *Stripe) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.dashboardURL + "/billing"),
	}
	params.Context = ctx

	start := time.Now()
	sess, err := s.api.BillingPortalSessions.New(params)
	metrics.RecordExternalCall("stripe", statusLabel(err), time.Since(start))
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// VerifyWebhook 校验 Stripe-Signature 并解析事件
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return evt, nil
}

// ParseWebhook 验签并归一化
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := s.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	return s.Normalize(evt)
}

// Event 归一化后的 webhook 事件，只保留订阅同步需要的字段
type Event struct {
	ID                string
	Type              string
	Created           time.Time
	TenantID          int64 // 0 表示事件里没有租户信息，需要按 customer/subscription 反查
	CustomerID        string
	SubscriptionID    string
	Plan              string
	VendorStatus      string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd *bool
	AmountCents       int64
	Currency          string
	CustomerEmail     string
}

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoicePaid          = "invoice.paid"
)

// Normalize 从事件 data.object 中提取字段；未处理的类型只返回 ID/Type/Created
func (s *Stripe) Normalize(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.TenantID = parseTenantID(sess.ClientReferenceID, sess.Metadata)
		out.Plan = sess.Metadata["plan"]
		out.VendorStatus = string(stripe.SubscriptionStatusActive)
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		out.AmountCents = sess.AmountTotal
		out.Currency = string(sess.Currency)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.TenantID = parseTenantID("", sub.Metadata)
		out.SubscriptionID = sub.ID
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.VendorStatus = string(sub.Status)
		out.Plan = sub.Metadata["plan"]
		if sub.Items != nil {
			for _, item := range sub.Items.Data {
				if item.Price != nil {
					if plan := s.PlanForPrice(item.Price.ID); plan != "" {
						out.Plan = plan
						break
					}
				}
			}
		}
		if sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
		cancel := sub.CancelAtPeriodEnd
		out.CancelAtPeriodEnd = &cancel

	case EventInvoicePaymentFailed, EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		out.AmountCents = inv.AmountDue
		if out.Type == EventInvoicePaid {
			out.AmountCents = inv.AmountPaid
		}
		out.Currency = string(inv.Currency)
		out.CustomerEmail = inv.CustomerEmail
	}

	return out, nil
}

// MapStatus 供应商订阅状态 → 内部状态
func MapStatus(vendor string) string {
	switch stripe.SubscriptionStatus(vendor) {
	case stripe.SubscriptionStatusActive:
		return model.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return model.SubscriptionTrialing
	case stripe.SubscriptionStatusPastDue:
		return model.SubscriptionPastDue
	case stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionUnpaid
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionCanceled
	case stripe.SubscriptionStatusIncomplete:
		return model.SubscriptionIncomplete
	case stripe.SubscriptionStatusPaused:
		return model.SubscriptionPaused
	}
	return model.SubscriptionIncomplete
}

func parseTenantID(ref string, metadata map[string]string) int64 {
	if ref == "" {
		ref = metadata["tenant_id"]
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return strconv.Itoa(se.HTTPStatusCode)
	}
	return "error"
}
