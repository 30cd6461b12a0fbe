package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/outbox"
	"baydigital/pkg/rbac"
	"baydigital/pkg/util"
)

// AccountStore 由 repository.AccountRepository 实现
type AccountStore interface {
	CreateTenantWithOwner(ctx context.Context, t *model.Tenant, u *model.User, events func(t *model.Tenant, u *model.User) []outbox.Message) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
	UpdateTenant(ctx context.Context, id int64, p model.TenantPatch) (*model.Tenant, error)
	ListTenantSummaries(ctx context.Context, limit, offset int) ([]model.TenantSummary, error)
}

type AuthService struct {
	accounts     AccountStore
	jwtSecret    string
	tokenTTL     time.Duration
	dashboardURL string
	logger       *zap.Logger
}

func NewAuthService(accounts AccountStore, jwtSecret string, tokenTTL time.Duration, dashboardURL string, logger *zap.Logger) *AuthService {
	return &AuthService{
		accounts:     accounts,
		jwtSecret:    jwtSecret,
		tokenTTL:     tokenTTL,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

type RegisterInput struct {
	Email        string
	Password     string
	FullName     string
	BusinessName string
	WebsiteURL   string
}

type AuthResult struct {
	Token  string        `json:"token"`
	User   *model.User   `json:"user"`
	Tenant *model.Tenant `json:"tenant,omitempty"`
}

// Register 创建租户和 owner 用户，并发送欢迎邮件和通知
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail("email", in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < 8 {
		return nil, invalid("password", "must be at least 8 characters")
	}
	if len(in.Password) > 72 {
		// bcrypt 只使用前 72 字节
		return nil, invalid("password", "must be at most 72 bytes")
	}
	business, err := requireLength("business_name", in.BusinessName, 1, 120)
	if err != nil {
		return nil, err
	}
	website, err := optionalURL("website_url", in.WebsiteURL)
	if err != nil {
		return nil, err
	}
	fullName, err := requireLength("full_name", in.FullName, 0, 120)
	if err != nil {
		return nil, err
	}

	hash, err := util.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tenant := &model.Tenant{
		BusinessName: business,
		WebsiteURL:   website,
		SiteKey:      newSiteKey(),
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Role:         rbac.RoleClient,
	}

	err = s.accounts.CreateTenantWithOwner(ctx, tenant, user, func(t *model.Tenant, u *model.User) []outbox.Message {
		return []outbox.Message{
			notificationMessage(ctx, t.ID, notificationSpec{
				Type:     "account.welcome",
				Title:    "Welcome to Bay Digital",
				Body:     "Your dashboard is ready. Pick a plan under Billing to get started.",
				Link:     "/billing",
				DedupKey: fmt.Sprintf("welcome:%d", t.ID),
			}),
			emailMessage(ctx, mqcontracts.EmailRequestedPayload{
				TenantID: t.ID,
				To:       []string{u.Email},
				Subject:  "Welcome to Bay Digital",
				Body: fmt.Sprintf("Hi %s,\n\nYour Bay Digital dashboard for %s is ready: %s\n",
					displayName(u), t.BusinessName, s.dashboardURL),
				DedupKey: fmt.Sprintf("welcome-email:%d", u.ID),
			}),
		}
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.Int64("user_id", user.ID),
		zap.Int64("tenant_id", tenant.ID),
	)
	return &AuthResult{Token: token, User: user, Tenant: tenant}, nil
}

// Login 校验密码并签发 JWT；不区分“用户不存在”和“密码错误”
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.accounts.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !util.CheckPassword(password, u.PasswordHash) {
		s.logger.Info("Login failed", zap.Int64("user_id", u.ID))
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: u}, nil
}

type Profile struct {
	User   *model.User   `json:"user"`
	Tenant *model.Tenant `json:"tenant,omitempty"`
}

// Me GET /me
func (s *AuthService) Me(ctx context.Context, userID int64) (*Profile, error) {
	u, err := s.accounts.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p := &Profile{User: u}
	if u.TenantID != nil {
		t, err := s.accounts.GetTenant(ctx, *u.TenantID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		p.Tenant = t
	}
	return p, nil
}

func (s *AuthService) issueToken(u *model.User) (string, error) {
	var tenantID int64
	if u.TenantID != nil {
		tenantID = *u.TenantID
	}
	token, err := util.GenerateJWT(u.ID, tenantID, u.Role, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func newSiteKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func displayName(u *model.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
