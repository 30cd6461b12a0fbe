package model

import "time"

const (
	PlanStarter = "starter"
	PlanGrowth  = "growth"
	PlanPro     = "pro"
)

// 内部订阅状态
const (
	SubscriptionNone       = "none"
	SubscriptionTrialing   = "trialing"
	SubscriptionActive     = "active"
	SubscriptionPastDue    = "past_due"
	SubscriptionUnpaid     = "unpaid"
	SubscriptionCanceled   = "canceled"
	SubscriptionIncomplete = "incomplete"
	SubscriptionPaused     = "paused"
)

type Subscription struct {
	ID                   int64      `json:"id"`
	TenantID             int64      `json:"tenant_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	LastEventAt          *time.Time `json:"last_event_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SubscriptionChange 一次 webhook 事件对订阅行的变更；空字段表示不修改
type SubscriptionChange struct {
	TenantID             int64
	StripeCustomerID     string
	StripeSubscriptionID string
	Plan                 string
	Status               string
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    *bool
	EventAt              time.Time
}

type WebhookEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TenantID   *int64    `json:"tenant_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
