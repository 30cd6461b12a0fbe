package model

import "time"

const (
	PostDraft     = "draft"
	PostScheduled = "scheduled"
	PostPublished = "published"
	PostFailed    = "failed"
	PostCancelled = "cancelled"
)

type SocialPost struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	CreatedBy   int64      `json:"created_by"`
	Platforms   []string   `json:"platforms"`
	Content     string     `json:"content"`
	ImageURL    string     `json:"image_url,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type SocialPostFilter struct {
	TenantID int64
	Status   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
