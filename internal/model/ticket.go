package model

import "time"

const (
	TicketOpen              = "open"
	TicketInProgress        = "in_progress"
	TicketWaitingOnCustomer = "waiting_on_customer"
	TicketResolved          = "resolved"
	TicketClosed            = "closed"
)

type Ticket struct {
	ID        int64      `json:"id"`
	TenantID  int64      `json:"tenant_id"`
	CreatedBy int64      `json:"created_by"`
	Number    string     `json:"number"`
	Subject   string     `json:"subject"`
	Category  string     `json:"category"`
	Priority  string     `json:"priority"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type TicketMessage struct {
	ID            int64     `json:"id"`
	TicketID      int64     `json:"ticket_id"`
	AuthorID      int64     `json:"author_id"`
	AuthorRole    string    `json:"author_role"`
	Body          string    `json:"body"`
	AttachmentKey string    `json:"attachment_key,omitempty"`
	Internal      bool      `json:"internal"`
	CreatedAt     time.Time `json:"created_at"`
}

type TicketFilter struct {
	TenantID *int64
	Status   string
	Limit    int
	Offset   int
}
