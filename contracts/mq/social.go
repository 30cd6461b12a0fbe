package mq

import "time"

type SocialPostPublishedPayload struct {
	PostID      int64     `json:"post_id"`
	TenantID    int64     `json:"tenant_id"`
	Platforms   []string  `json:"platforms"`
	Preview     string    `json:"preview"`
	PublishedAt time.Time `json:"published_at"`
}

type FormSubmittedPayload struct {
	SubmissionID int64     `json:"submission_id"`
	TenantID     int64     `json:"tenant_id"`
	FormName     string    `json:"form_name"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	TraceID      string    `json:"trace_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
