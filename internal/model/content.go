package model

import "time"

type AIGeneration struct {
	ID               int64     `json:"id"`
	TenantID         int64     `json:"tenant_id"`
	UserID           int64     `json:"user_id"`
	Kind             string    `json:"kind"`
	Topic            string    `json:"topic"`
	Tone             string    `json:"tone"`
	Content          string    `json:"content"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	FormNew      = "new"
	FormRead     = "read"
	FormArchived = "archived"
)

type FormSubmission struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	FormName  string    `json:"form_name"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Message   string    `json:"message"`
	SourceIP  string    `json:"-"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
