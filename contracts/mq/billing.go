package mq

import "time"

type SubscriptionUpdatedPayload struct {
	TenantID         int64      `json:"tenant_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	PreviousStatus   string     `json:"previous_status"`
	EventID          string     `json:"event_id"`
	EventType        string     `json:"event_type"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	TraceID          string     `json:"trace_id,omitempty"`
}
