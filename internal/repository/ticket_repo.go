package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/db"
	"baydigital/pkg/outbox"
)

type TicketRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTicketRepository(db *pgxpool.Pool, logger *zap.Logger) *TicketRepository {
	return &TicketRepository{db: db, logger: logger}
}

const ticketColumns = `id, tenant_id, created_by, number, subject, category, priority, status, created_at, updated_at, closed_at`

func scanTicket(row pgx.Row, t *model.Ticket) error {
	return row.Scan(&t.ID, &t.TenantID, &t.CreatedBy, &t.Number, &t.Subject, &t.Category, &t.Priority,
		&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
}

const messageColumns = `id, ticket_id, author_id, author_role, body, attachment_key, internal, created_at`

func scanMessage(row pgx.Row, m *model.TicketMessage) error {
	return row.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.AuthorRole, &m.Body, &m.AttachmentKey, &m.Internal, &m.CreatedAt)
}

// Create 创建工单和第一条消息；工单号冲突返回 ErrDuplicate
func (r *TicketRepository) Create(
	ctx context.Context,
	t *model.Ticket,
	first *model.TicketMessage,
	events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message,
) error {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := scanTicket(tx.QueryRow(ctx, `
			INSERT INTO tickets (tenant_id, created_by, number, subject, category, priority, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+ticketColumns,
			t.TenantID, t.CreatedBy, t.Number, t.Subject, t.Category, t.Priority, t.Status,
		), t)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert ticket: %w", err)
		}

		first.TicketID = t.ID
		if err := insertMessage(ctx, tx, first); err != nil {
			return err
		}

		if events != nil {
			return outbox.Insert(ctx, tx, events(t, first)...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Ticket created",
		zap.Int64("ticket_id", t.ID),
		zap.Int64("tenant_id", t.TenantID),
		zap.String("number", t.Number),
	)
	return nil
}

func insertMessage(ctx context.Context, q db.DBTX, m *model.TicketMessage) error {
	err := scanMessage(q.QueryRow(ctx, `
		INSERT INTO ticket_messages (ticket_id, author_id, author_role, body, attachment_key, internal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		m.TicketID, m.AuthorID, m.AuthorRole, m.Body, m.AttachmentKey, m.Internal,
	), m)
	if err != nil {
		return fmt.Errorf("insert ticket message: %w", err)
	}
	return nil
}

func (r *TicketRepository) Get(ctx context.Context, id int64) (*model.Ticket, error) {
	var t model.Ticket
	if err := scanTicket(r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id), &t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// List 按租户（nil = 全部）和状态过滤，最近更新的在前
func (r *TicketRepository) List(ctx context.Context, f model.TicketFilter) ([]model.Ticket, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	var where []string
	var args []any
	if f.TenantID != nil {
		args = append(args, *f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := scanTicket(rows, &t); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListMessages 按时间顺序；includeInternal=false 时过滤内部备注
func (r *TicketRepository) ListMessages(ctx context.Context, ticketID int64, includeInternal bool) ([]model.TicketMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM ticket_messages
		WHERE ticket_id = $1 AND ($2 OR internal = FALSE)
		ORDER BY created_at ASC, id ASC
	`, ticketID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("query ticket messages: %w", err)
	}
	defer rows.Close()

	var out []model.TicketMessage
	for rows.Next() {
		var m model.TicketMessage
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("scan ticket message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMessage 追加消息，并在 from != to 时把状态从 from 改为 to；状态已变化返回 ErrConflict
func (r *TicketRepository) AddMessage(
	ctx context.Context,
	t *model.Ticket,
	m *model.TicketMessage,
	from, to string,
	events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message,
) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := transitionTicket(ctx, tx, t, from, to); err != nil {
			return err
		}

		m.TicketID = t.ID
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}

		if events != nil {
			return outbox.Insert(ctx, tx, events(t, m)...)
		}
		return nil
	})
}

// UpdateStatus 乐观更新状态（WHERE status = from）
func (r *TicketRepository) UpdateStatus(
	ctx context.Context,
	t *model.Ticket,
	from, to string,
	events func(t *model.Ticket) []outbox.Message,
) error {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := transitionTicket(ctx, tx, t, from, to); err != nil {
			return err
		}
		if events != nil {
			return outbox.Insert(ctx, tx, events(t)...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Ticket status changed",
		zap.Int64("ticket_id", t.ID),
		zap.String("from", from),
		zap.String("to", to),
	)
	return nil
}

// transitionTicket 总是刷新 updated_at；状态不变时只校验当前状态
func transitionTicket(ctx context.Context, tx pgx.Tx, t *model.Ticket, from, to string) error {
	err := scanTicket(tx.QueryRow(ctx, `
		UPDATE tickets SET
			status     = $3,
			updated_at = NOW(),
			closed_at  = CASE WHEN $3 = 'closed' THEN NOW() WHEN $3 = 'open' THEN NULL ELSE closed_at END
		WHERE id = $1 AND status = $2
		RETURNING `+ticketColumns,
		t.ID, from, to,
	), t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		return fmt.Errorf("update ticket status: %w", err)
	}
	return nil
}

// ListIDs 重建索引用，按 id 分页
func (r *TicketRepository) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM tickets WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticket ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan ticket ids: %w", err)
	}
	return ids, nil
}
