package model

import "time"

type Tenant struct {
	ID           int64     `json:"id"`
	BusinessName string    `json:"business_name"`
	WebsiteURL   string    `json:"website_url"`
	ContactPhone string    `json:"contact_phone"`
	SiteKey      string    `json:"site_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type User struct {
	ID           int64     `json:"id"`
	TenantID     *int64    `json:"tenant_id,omitempty"` // 员工账号可以不属于任何租户
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// TenantSummary 员工后台的租户列表
type TenantSummary struct {
	Tenant
	Plan               string `json:"plan"`
	SubscriptionStatus string `json:"subscription_status"`
	OpenTickets        int    `json:"open_tickets"`
}

// TenantPatch PATCH /account，nil 字段不修改
type TenantPatch struct {
	BusinessName *string
	WebsiteURL   *string
	ContactPhone *string
}
