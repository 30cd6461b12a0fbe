package mq

import "time"

type TicketCreatedPayload struct {
	TicketID  int64     `json:"ticket_id"`
	TenantID  int64     `json:"tenant_id"`
	Number    string    `json:"number"`
	Subject   string    `json:"subject"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	CreatedBy int64     `json:"created_by"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type TicketMessageCreatedPayload struct {
	TicketID   int64     `json:"ticket_id"`
	MessageID  int64     `json:"message_id"`
	TenantID   int64     `json:"tenant_id"`
	Number     string    `json:"number"`
	Subject    string    `json:"subject"`
	AuthorID   int64     `json:"author_id"`
	AuthorRole string    `json:"author_role"`
	Internal   bool      `json:"internal"`
	Status     string    `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TicketStatusChangedPayload struct {
	TicketID      int64     `json:"ticket_id"`
	TenantID      int64     `json:"tenant_id"`
	Number        string    `json:"number"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ChangedBy     int64     `json:"changed_by"`
	ChangedByRole string    `json:"changed_by_role"`
	ViaReply      bool      `json:"via_reply,omitempty"` // 回复引起的状态变化，消息事件已经通知过
	TraceID       string    `json:"trace_id,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}
