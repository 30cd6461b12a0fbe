package mq

import "time"

// NotificationCreatedPayload worker 据此写入 notifications 并推送实时消息
type NotificationCreatedPayload struct {
	TenantID  int64     `json:"tenant_id"`
	UserID    *int64    `json:"user_id,omitempty"` // nil = 整个租户
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link,omitempty"`
	DedupKey  string    `json:"dedup_key"`
	Email     bool      `json:"email,omitempty"` // 同时给租户用户发邮件
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailRequestedPayload To 为空时发给租户的全部用户
type EmailRequestedPayload struct {
	TenantID int64    `json:"tenant_id,omitempty"`
	To       []string `json:"to,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	DedupKey string   `json:"dedup_key"`
	TraceID  string   `json:"trace_id,omitempty"`
}
