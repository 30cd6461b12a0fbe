package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/outbox"
	"baydigital/pkg/trace"
	"baydigital/pkg/util"
)

const (
	formRateLimit  = 10
	formRateWindow = time.Minute
)

// FormStore 由 repository.FormRepository 实现
type FormStore interface {
	Insert(ctx context.Context, s *model.FormSubmission, events func(s *model.FormSubmission) []outbox.Message) error
	List(ctx context.Context, tenantID int64, status string, limit, offset int) ([]model.FormSubmission, error)
	UpdateStatus(ctx context.Context, tenantID, id int64, status string) (*model.FormSubmission, error)
}

// SiteResolver site_key → tenant
type SiteResolver interface {
	GetTenantBySiteKey(ctx context.Context, siteKey string) (*model.Tenant, error)
}

// RateLimiter 由 util.Limiter 实现
type RateLimiter interface {
	Consume(ctx context.Context, key string, limit int64, window time.Duration) (int64, error)
}

type FormService struct {
	forms   FormStore
	sites   SiteResolver
	limiter RateLimiter
	logger  *zap.Logger
}

func NewFormService(forms FormStore, sites SiteResolver, limiter RateLimiter, logger *zap.Logger) *FormService {
	return &FormService{forms: forms, sites: sites, limiter: limiter, logger: logger}
}

type FormInput struct {
	FormName string
	Name     string
	Email    string
	Phone    string
	Message  string
	Website  string // honeypot，真人不会填写
}

// Submit 公开表单提交。返回 false 表示被蜜罐丢弃（调用方仍返回 202）
func (s *FormService) Submit(ctx context.Context, siteKey, ip string, in FormInput) (bool, error) {
	siteKey = strings.TrimSpace(siteKey)
	if siteKey == "" {
		return false, ErrNotFound
	}
	tenant, err := s.sites.GetTenantBySiteKey(ctx, siteKey)
	if err != nil {
		return false, mapNotFound(err)
	}

	if s.limiter != nil {
		_, err := s.limiter.Consume(ctx, "forms:rl:"+siteKey+":"+ip, formRateLimit, formRateWindow)
		if errors.Is(err, util.ErrLimitExceeded) {
			return false, ErrRateLimited
		}
		if err != nil {
			// Redis 故障时不拒绝真实用户
			s.logger.Warn("Form rate limiter unavailable", zap.Error(err))
		}
	}

	if strings.TrimSpace(in.Website) != "" {
		s.logger.Info("Dropping form submission caught by honeypot",
			zap.Int64("tenant_id", tenant.ID),
			zap.String("source_ip", ip),
		)
		return false, nil
	}

	sub, err := validateForm(in)
	if err != nil {
		return false, err
	}
	sub.TenantID = tenant.ID
	sub.SourceIP = ip

	err = s.forms.Insert(ctx, sub, func(sub *model.FormSubmission) []outbox.Message {
		id := sub.ID
		return []outbox.Message{{
			AggregateType: mqcontracts.AggregateForm,
			AggregateID:   &id,
			RoutingKey:    mqcontracts.RoutingFormSubmitted,
			Payload: mqcontracts.FormSubmittedPayload{
				SubmissionID: sub.ID,
				TenantID:     sub.TenantID,
				FormName:     sub.FormName,
				Name:         sub.Name,
				Email:        sub.Email,
				TraceID:      trace.FromContext(ctx),
				SubmittedAt:  sub.CreatedAt,
			},
		}}
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func validateForm(in FormInput) (*model.FormSubmission, error) {
	formName := strings.TrimSpace(in.FormName)
	if formName == "" {
		formName = "contact"
	}
	formName, err := requireLength("form_name", formName, 1, 100)
	if err != nil {
		return nil, err
	}
	name, err := requireLength("name", in.Name, 1, 120)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail("email", in.Email)
	if err != nil {
		return nil, err
	}
	phone, err := optionalPhone("phone", in.Phone)
	if err != nil {
		return nil, err
	}
	message, err := requireLength("message", in.Message, 1, 5000)
	if err != nil {
		return nil, err
	}
	return &model.FormSubmission{
		FormName: formName,
		Name:     name,
		Email:    email,
		Phone:    phone,
		Message:  message,
		Status:   model.FormNew,
	}, nil
}

var formStatuses = []string{model.FormNew, model.FormRead, model.FormArchived}

func (s *FormService) List(ctx context.Context, actor Actor, status string, limit, offset int) ([]model.FormSubmission, error) {
	if status != "" {
		if err := oneOf("status", status, formStatuses...); err != nil {
			return nil, err
		}
	}
	return s.forms.List(ctx, actor.TenantID, status, limit, offset)
}

func (s *FormService) UpdateStatus(ctx context.Context, actor Actor, id int64, status string) (*model.FormSubmission, error) {
	if err := oneOf("status", status, formStatuses...); err != nil {
		return nil, err
	}
	sub, err := s.forms.UpdateStatus(ctx, actor.TenantID, id, status)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}
