package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/model"
)

type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

const notificationColumns = `id, tenant_id, user_id, type, title, body, link, COALESCE(dedup_key, ''), is_read, created_at`

func scanNotification(row pgx.Row, n *model.Notification) error {
	return row.Scan(&n.ID, &n.TenantID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Link, &n.DedupKey, &n.IsRead, &n.CreatedAt)
}

// Insert 写入通知；dedup_key 已存在时返回 false（幂等）
func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) (bool, error) {
	var dedup *string
	if n.DedupKey != "" {
		dedup = &n.DedupKey
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (tenant_id, user_id, type, title, body, link, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id, created_at
	`, n.TenantID, n.UserID, n.Type, n.Title, n.Body, n.Link, dedup).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Info("Notification already exists, skip",
				zap.String("dedup_key", n.DedupKey),
				zap.Int64("tenant_id", n.TenantID),
			)
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

// List 当前用户可见的通知：发给自己的和发给整个租户的
func (r *NotificationRepository) List(ctx context.Context, f model.NotificationFilter) ([]model.Notification, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE tenant_id = $1 AND (user_id IS NULL OR user_id = $2) AND (NOT $3 OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, f.TenantID, f.UserID, f.UnreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) CountUnread(ctx context.Context, tenantID, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE tenant_id = $1 AND (user_id IS NULL OR user_id = $2) AND is_read = FALSE
	`, tenantID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, tenantID, userID, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND tenant_id = $2 AND (user_id IS NULL OR user_id = $3)
	`, id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, tenantID, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE tenant_id = $1 AND (user_id IS NULL OR user_id = $2) AND is_read = FALSE
	`, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) Delete(ctx context.Context, tenantID, userID, id int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM notifications
		WHERE id = $1 AND tenant_id = $2 AND (user_id IS NULL OR user_id = $3)
	`, id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
