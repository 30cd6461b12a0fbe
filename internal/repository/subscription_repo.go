package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/db"
	"baydigital/pkg/outbox"
)

type SubscriptionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSubscriptionRepository(db *pgxpool.Pool, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, logger: logger}
}

// WebhookResult 一次 webhook 事件在事务内的处理结果
type WebhookResult struct {
	Previous *model.Subscription // 处理前的订阅行，可能为 nil
	Current  *model.Subscription // 处理后的订阅行，可能为 nil
	Applied  bool                // 是否写入了变更（无变更或过期事件为 false）
	Stale    bool                // 事件早于 last_event_at，被忽略
}

const subscriptionColumns = `id, tenant_id, stripe_customer_id, stripe_subscription_id, plan, status,
	current_period_end, cancel_at_period_end, last_event_at, updated_at`

func scanSubscription(row pgx.Row, s *model.Subscription) error {
	return row.Scan(
		&s.ID, &s.TenantID, &s.StripeCustomerID, &s.StripeSubscriptionID, &s.Plan, &s.Status,
		&s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.LastEventAt, &s.UpdatedAt,
	)
}

func (r *SubscriptionRepository) GetByTenant(ctx context.Context, tenantID int64) (*model.Subscription, error) {
	var s model.Subscription
	err := scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID), &s)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// FindTenantID 按 Stripe subscription id 或 customer id 找租户
func (r *SubscriptionRepository) FindTenantID(ctx context.Context, subscriptionID, customerID string) (int64, error) {
	var tenantID int64
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id FROM subscriptions
		WHERE ($1 <> '' AND stripe_subscription_id = $1) OR ($2 <> '' AND stripe_customer_id = $2)
		ORDER BY (stripe_subscription_id = $1) DESC
		LIMIT 1
	`, subscriptionID, customerID).Scan(&tenantID)
	if err != nil {
		return 0, notFound(err)
	}
	return tenantID, nil
}

// ProcessWebhook 在一个事务中：记录 webhook 事件（重复返回 ErrDuplicate）、应用订阅变更、写入 outbox。
// events 在变更之后调用，返回的消息与变更一起提交。
func (r *SubscriptionRepository) ProcessWebhook(
	ctx context.Context,
	evt model.WebhookEvent,
	change *model.SubscriptionChange,
	events func(res WebhookResult) []outbox.Message,
) (WebhookResult, error) {
	var res WebhookResult

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO webhook_events (event_id, event_type, tenant_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING
		`, evt.EventID, evt.EventType, evt.TenantID)
		if err != nil {
			return fmt.Errorf("record webhook event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicate
		}

		var tenantID int64
		if change != nil {
			tenantID = change.TenantID
		} else if evt.TenantID != nil {
			tenantID = *evt.TenantID
		}

		if tenantID != 0 {
			var prev model.Subscription
			err := scanSubscription(tx.QueryRow(ctx,
				`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 FOR UPDATE`, tenantID), &prev)
			switch {
			case err == nil:
				res.Previous = &prev
				res.Current = &prev
			case !errors.Is(err, pgx.ErrNoRows):
				return fmt.Errorf("lock subscription: %w", err)
			}
		}

		if change != nil {
			if res.Previous != nil && res.Previous.LastEventAt != nil && change.EventAt.Before(*res.Previous.LastEventAt) {
				res.Stale = true
			} else {
				cur, err := upsertSubscription(ctx, tx, change)
				if err != nil {
					return err
				}
				res.Current = cur
				res.Applied = true
			}
		}

		if events != nil {
			return outbox.Insert(ctx, tx, events(res)...)
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	r.logger.Info("Webhook event stored",
		zap.String("event_id", evt.EventID),
		zap.String("event_type", evt.EventType),
		zap.Bool("applied", res.Applied),
		zap.Bool("stale", res.Stale),
	)
	return res, nil
}

func upsertSubscription(ctx context.Context, tx pgx.Tx, c *model.SubscriptionChange) (*model.Subscription, error) {
	var s model.Subscription
	err := scanSubscription(tx.QueryRow(ctx, `
		INSERT INTO subscriptions (tenant_id, stripe_customer_id, stripe_subscription_id, plan, status,
		                           current_period_end, cancel_at_period_end, last_event_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, ''), 'none'), $6, COALESCE($7::boolean, FALSE), $8, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			stripe_customer_id     = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), subscriptions.stripe_customer_id),
			stripe_subscription_id = COALESCE(NULLIF(EXCLUDED.stripe_subscription_id, ''), subscriptions.stripe_subscription_id),
			plan                   = COALESCE(NULLIF(EXCLUDED.plan, ''), subscriptions.plan),
			status                 = CASE WHEN $5 = '' THEN subscriptions.status ELSE EXCLUDED.status END,
			current_period_end     = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end   = COALESCE($7::boolean, subscriptions.cancel_at_period_end),
			last_event_at          = GREATEST(subscriptions.last_event_at, EXCLUDED.last_event_at),
			updated_at             = NOW()
		RETURNING `+subscriptionColumns,
		c.TenantID, c.StripeCustomerID, c.StripeSubscriptionID, c.Plan, c.Status,
		c.CurrentPeriodEnd, c.CancelAtPeriodEnd, c.EventAt,
	), &s)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return &s, nil
}
