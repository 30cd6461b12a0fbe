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

type GenerationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewGenerationRepository(db *pgxpool.Pool, logger *zap.Logger) *GenerationRepository {
	return &GenerationRepository{db: db, logger: logger}
}

func (r *GenerationRepository) Insert(ctx context.Context, g *model.AIGeneration) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO ai_generations (tenant_id, user_id, kind, topic, tone, content, model, prompt_tokens, completion_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, g.TenantID, g.UserID, g.Kind, g.Topic, g.Tone, g.Content, g.Model, g.PromptTokens, g.CompletionTokens,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ai generation: %w", err)
	}
	return nil
}

func (r *GenerationRepository) List(ctx context.Context, tenantID int64, limit, offset int) ([]model.AIGeneration, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, user_id, kind, topic, tone, content, model, prompt_tokens, completion_tokens, created_at
		FROM ai_generations
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query ai generations: %w", err)
	}
	defer rows.Close()

	out := []model.AIGeneration{}
	for rows.Next() {
		var g model.AIGeneration
		if err := rows.Scan(&g.ID, &g.TenantID, &g.UserID, &g.Kind, &g.Topic, &g.Tone, &g.Content, &g.Model,
			&g.PromptTokens, &g.CompletionTokens, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ai generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type FormRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewFormRepository(db *pgxpool.Pool, logger *zap.Logger) *FormRepository {
	return &FormRepository{db: db, logger: logger}
}

const formColumns = `id, tenant_id, form_name, name, email, phone, message, source_ip, status, created_at`

func scanForm(row pgx.Row, s *model.FormSubmission) error {
	return row.Scan(&s.ID, &s.TenantID, &s.FormName, &s.Name, &s.Email, &s.Phone, &s.Message, &s.SourceIP, &s.Status, &s.CreatedAt)
}

func (r *FormRepository) Insert(
	ctx context.Context,
	s *model.FormSubmission,
	events func(s *model.FormSubmission) []outbox.Message,
) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := scanForm(tx.QueryRow(ctx, `
			INSERT INTO form_submissions (tenant_id, form_name, name, email, phone, message, source_ip, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'new')
			RETURNING `+formColumns,
			s.TenantID, s.FormName, s.Name, s.Email, s.Phone, s.Message, s.SourceIP,
		), s)
		if err != nil {
			return fmt.Errorf("insert form submission: %w", err)
		}
		if events != nil {
			return outbox.Insert(ctx, tx, events(s)...)
		}
		return nil
	})
}

func (r *FormRepository) List(ctx context.Context, tenantID int64, status string, limit, offset int) ([]model.FormSubmission, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.Query(ctx, `
		SELECT `+formColumns+`
		FROM form_submissions
		WHERE tenant_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, tenantID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query form submissions: %w", err)
	}
	defer rows.Close()

	out := []model.FormSubmission{}
	for rows.Next() {
		var s model.FormSubmission
		if err := scanForm(rows, &s); err != nil {
			return nil, fmt.Errorf("scan form submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *FormRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status string) (*model.FormSubmission, error) {
	var s model.FormSubmission
	err := scanForm(r.db.QueryRow(ctx, `
		UPDATE form_submissions SET status = $3
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+formColumns,
		id, tenantID, status,
	), &s)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}
