package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/db"
	"baydigital/pkg/outbox"
)

type SocialPostRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSocialPostRepository(db *pgxpool.Pool, logger *zap.Logger) *SocialPostRepository {
	return &SocialPostRepository{db: db, logger: logger}
}

const postColumns = `id, tenant_id, created_by, platforms, content, image_url, scheduled_at, status,
	published_at, error, created_at, updated_at`

func scanPost(row pgx.Row, p *model.SocialPost) error {
	return row.Scan(&p.ID, &p.TenantID, &p.CreatedBy, &p.Platforms, &p.Content, &p.ImageURL, &p.ScheduledAt,
		&p.Status, &p.PublishedAt, &p.Error, &p.CreatedAt, &p.UpdatedAt)
}

func (r *SocialPostRepository) Create(ctx context.Context, p *model.SocialPost) error {
	err := scanPost(r.db.QueryRow(ctx, `
		INSERT INTO social_posts (tenant_id, created_by, platforms, content, image_url, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+postColumns,
		p.TenantID, p.CreatedBy, p.Platforms, p.Content, p.ImageURL, p.ScheduledAt, p.Status,
	), p)
	if err != nil {
		return fmt.Errorf("insert social post: %w", err)
	}

	r.logger.Info("Social post created",
		zap.Int64("post_id", p.ID),
		zap.Int64("tenant_id", p.TenantID),
		zap.String("status", p.Status),
	)
	return nil
}

func (r *SocialPostRepository) Get(ctx context.Context, tenantID, id int64) (*model.SocialPost, error) {
	var p model.SocialPost
	err := scanPost(r.db.QueryRow(ctx, `SELECT `+postColumns+` FROM social_posts WHERE id = $1 AND tenant_id = $2`, id, tenantID), &p)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *SocialPostRepository) List(ctx context.Context, f model.SocialPostFilter) ([]model.SocialPost, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("scheduled_at < $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s FROM social_posts
		WHERE %s
		ORDER BY COALESCE(scheduled_at, created_at) DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		postColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query social posts: %w", err)
	}
	defer rows.Close()

	out := []model.SocialPost{}
	for rows.Next() {
		var p model.SocialPost
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("scan social post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update 只更新 draft/scheduled 的帖子；其他状态返回 ErrConflict
func (r *SocialPostRepository) Update(ctx context.Context, p *model.SocialPost) error {
	err := scanPost(r.db.QueryRow(ctx, `
		UPDATE social_posts SET
			platforms = $3, content = $4, image_url = $5, scheduled_at = $6, status = $7, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status IN ('draft', 'scheduled')
		RETURNING `+postColumns,
		p.ID, p.TenantID, p.Platforms, p.Content, p.ImageURL, p.ScheduledAt, p.Status,
	), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		return fmt.Errorf("update social post: %w", err)
	}
	return nil
}

// Cancel draft/scheduled → cancelled
func (r *SocialPostRepository) Cancel(ctx context.Context, tenantID, id int64) (*model.SocialPost, error) {
	var p model.SocialPost
	err := scanPost(r.db.QueryRow(ctx, `
		UPDATE social_posts SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status IN ('draft', 'scheduled')
		RETURNING `+postColumns,
		id, tenantID,
	), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("cancel social post: %w", err)
	}
	return &p, nil
}

// ClaimDue 领取到期的帖子并标记为 published；多个 worker 并行时 SKIP LOCKED 保证不重复
func (r *SocialPostRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
	events func(p *model.SocialPost) []outbox.Message,
) ([]model.SocialPost, error) {
	var claimed []model.SocialPost

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE social_posts SET status = 'published', published_at = $1, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM social_posts
				WHERE status = 'scheduled' AND scheduled_at <= $1
				ORDER BY scheduled_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+postColumns,
			now, limit,
		)
		if err != nil {
			return fmt.Errorf("claim due posts: %w", err)
		}

		for rows.Next() {
			var p model.SocialPost
			if err := scanPost(rows, &p); err != nil {
				rows.Close()
				return fmt.Errorf("scan claimed post: %w", err)
			}
			claimed = append(claimed, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if events == nil {
			return nil
		}
		for i := range claimed {
			if err := outbox.Insert(ctx, tx, events(&claimed[i])...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		r.logger.Info("Claimed due social posts", zap.Int("count", len(claimed)))
	}
	return claimed, nil
}
