package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/repository"
)

// SubscriptionReader 读取租户当前订阅
type SubscriptionReader interface {
	GetByTenant(ctx context.Context, tenantID int64) (*model.Subscription, error)
}

type AccountService struct {
	accounts AccountStore
	subs     SubscriptionReader
	logger   *zap.Logger
}

func NewAccountService(accounts AccountStore, subs SubscriptionReader, logger *zap.Logger) *AccountService {
	return &AccountService{accounts: accounts, subs: subs, logger: logger}
}

type AccountView struct {
	model.Tenant
	Plan               string `json:"plan"`
	SubscriptionStatus string `json:"subscription_status"`
}

func (s *AccountService) Get(ctx context.Context, actor Actor) (*AccountView, error) {
	if actor.TenantID == 0 {
		return nil, ErrNotFound
	}
	t, err := s.accounts.GetTenant(ctx, actor.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sub, err := currentSubscription(ctx, s.subs, actor.TenantID)
	if err != nil {
		return nil, err
	}
	return &AccountView{Tenant: *t, Plan: sub.Plan, SubscriptionStatus: sub.Status}, nil
}

type UpdateAccountInput struct {
	BusinessName *string
	WebsiteURL   *string
	ContactPhone *string
}

// Update PATCH /account，只修改传入的字段
func (s *AccountService) Update(ctx context.Context, actor Actor, in UpdateAccountInput) (*model.Tenant, error) {
	if actor.TenantID == 0 {
		return nil, ErrNotFound
	}

	var patch model.TenantPatch
	if in.BusinessName != nil {
		v, err := requireLength("business_name", *in.BusinessName, 1, 120)
		if err != nil {
			return nil, err
		}
		patch.BusinessName = &v
	}
	if in.WebsiteURL != nil {
		v, err := optionalURL("website_url", *in.WebsiteURL)
		if err != nil {
			return nil, err
		}
		patch.WebsiteURL = &v
	}
	if in.ContactPhone != nil {
		v, err := optionalPhone("contact_phone", *in.ContactPhone)
		if err != nil {
			return nil, err
		}
		patch.ContactPhone = &v
	}
	if patch.BusinessName == nil && patch.WebsiteURL == nil && patch.ContactPhone == nil {
		return nil, invalid("", "no fields to update")
	}

	t, err := s.accounts.UpdateTenant(ctx, actor.TenantID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.logger.Info("Account updated",
		zap.Int64("tenant_id", actor.TenantID),
		zap.Int64("user_id", actor.UserID),
	)
	return t, nil
}

// AdminService 员工后台
type AdminService struct {
	accounts AccountStore
}

func NewAdminService(accounts AccountStore) *AdminService {
	return &AdminService{accounts: accounts}
}

func (s *AdminService) ListTenants(ctx context.Context, limit, offset int) ([]model.TenantSummary, error) {
	return s.accounts.ListTenantSummaries(ctx, limit, offset)
}

// currentSubscription 没有订阅行时返回 status=none
func currentSubscription(ctx context.Context, subs SubscriptionReader, tenantID int64) (*model.Subscription, error) {
	sub, err := subs.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.Subscription{TenantID: tenantID, Status: model.SubscriptionNone}, nil
		}
		return nil, err
	}
	return sub, nil
}
