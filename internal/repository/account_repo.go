package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/db"
	"baydigital/pkg/outbox"
)

type AccountRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAccountRepository(db *pgxpool.Pool, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: logger}
}

const tenantColumns = `id, business_name, website_url, contact_phone, site_key, created_at, updated_at`

func scanTenant(row pgx.Row, t *model.Tenant) error {
	return row.Scan(&t.ID, &t.BusinessName, &t.WebsiteURL, &t.ContactPhone, &t.SiteKey, &t.CreatedAt, &t.UpdatedAt)
}

const userColumns = `id, tenant_id, email, password_hash, full_name, role, created_at`

func scanUser(row pgx.Row, u *model.User) error {
	return row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.CreatedAt)
}

// CreateTenantWithOwner 注册：同一事务创建租户和第一个用户
func (r *AccountRepository) CreateTenantWithOwner(
	ctx context.Context,
	t *model.Tenant,
	u *model.User,
	events func(t *model.Tenant, u *model.User) []outbox.Message,
) error {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := scanTenant(tx.QueryRow(ctx, `
			INSERT INTO tenants (business_name, website_url, contact_phone, site_key)
			VALUES ($1, $2, $3, $4)
			RETURNING `+tenantColumns,
			t.BusinessName, t.WebsiteURL, t.ContactPhone, t.SiteKey,
		), t)
		if err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}

		u.TenantID = &t.ID
		err = scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (tenant_id, email, password_hash, full_name, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+userColumns,
			u.TenantID, u.Email, u.PasswordHash, u.FullName, u.Role,
		), u)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert user: %w", err)
		}

		if events != nil {
			return outbox.Insert(ctx, tx, events(t, u)...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Tenant registered",
		zap.Int64("tenant_id", t.ID),
		zap.Int64("user_id", u.ID),
	)
	return nil
}

func (r *AccountRepository) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email), &u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *AccountRepository) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id), &u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *AccountRepository) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	var t model.Tenant
	if err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id), &t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *AccountRepository) GetTenantBySiteKey(ctx context.Context, siteKey string) (*model.Tenant, error) {
	var t model.Tenant
	if err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE site_key = $1`, siteKey), &t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// UpdateTenant 部分更新，nil 字段保持原值
func (r *AccountRepository) UpdateTenant(ctx context.Context, id int64, p model.TenantPatch) (*model.Tenant, error) {
	var t model.Tenant
	err := scanTenant(r.db.QueryRow(ctx, `
		UPDATE tenants SET
			business_name = COALESCE($2, business_name),
			website_url   = COALESCE($3, website_url),
			contact_phone = COALESCE($4, contact_phone),
			updated_at    = NOW()
		WHERE id = $1
		RETURNING `+tenantColumns,
		id, p.BusinessName, p.WebsiteURL, p.ContactPhone,
	), &t)
	if err != nil {
		return nil, notFound(err)
	}

	r.logger.Info("Tenant updated", zap.Int64("tenant_id", id))
	return &t, nil
}

// TenantEmails 租户全部用户的邮箱（邮件通知收件人）
func (r *AccountRepository) TenantEmails(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT email FROM users WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tenant emails: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tenant emails: %w", err)
	}
	return emails, nil
}

// ListTenantSummaries 员工后台：租户 + 订阅状态 + 未关闭工单数
func (r *AccountRepository) ListTenantSummaries(ctx context.Context, limit, offset int) ([]model.TenantSummary, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.Query(ctx, `
		SELECT t.id, t.business_name, t.website_url, t.contact_phone, t.site_key, t.created_at, t.updated_at,
		       COALESCE(s.plan, ''), COALESCE(s.status, 'none'),
		       (SELECT COUNT(*) FROM tickets k WHERE k.tenant_id = t.id AND k.status NOT IN ('resolved', 'closed'))
		FROM tenants t
		LEFT JOIN subscriptions s ON s.tenant_id = t.id
		ORDER BY t.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []model.TenantSummary
	for rows.Next() {
		var s model.TenantSummary
		if err := rows.Scan(
			&s.ID, &s.BusinessName, &s.WebsiteURL, &s.ContactPhone, &s.SiteKey, &s.CreatedAt, &s.UpdatedAt,
			&s.Plan, &s.SubscriptionStatus, &s.OpenTickets,
		); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
