package model

import "time"

type Notification struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link,omitempty"`
	DedupKey  string    `json:"-"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationFilter struct {
	TenantID   int64
	UserID     int64
	UnreadOnly bool
	Limit      int
	Offset     int
}
