package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/search"
)

// TicketSource 由 repository.TicketRepository 实现
type TicketSource interface {
	Get(ctx context.Context, id int64) (*model.Ticket, error)
	ListMessages(ctx context.Context, ticketID int64, includeInternal bool) ([]model.TicketMessage, error)
	ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// DocumentIndexer 由 search.Meili 实现
type DocumentIndexer interface {
	IndexTickets(docs []search.TicketDoc) error
	DeleteTicket(id int64) error
}

// TicketIndexer 把工单同步到 Meilisearch；worker 事件驱动调用 Index，dashboardctl 调用 Reindex
type TicketIndexer struct {
	tickets TicketSource
	index   DocumentIndexer
	logger  *zap.Logger
}

func NewTicketIndexer(tickets TicketSource, index DocumentIndexer, logger *zap.Logger) *TicketIndexer {
	return &TicketIndexer{tickets: tickets, index: index, logger: logger}
}

// Index 重新生成单个工单的文档；工单已删除时同时删除索引文档
func (i *TicketIndexer) Index(ctx context.Context, ticketID int64) error {
	doc, err := i.document(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return i.remove(ticketID)
		}
		return err
	}
	if err := i.index.IndexTickets([]search.TicketDoc{*doc}); err != nil {
		return fmt.Errorf("index ticket %d: %w", ticketID, err)
	}
	return nil
}

// Reindex 全量重建，按 id 分批
func (i *TicketIndexer) Reindex(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	var total int
	var after int64
	for {
		ids, err := i.tickets.ListIDs(ctx, after, batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		docs := make([]search.TicketDoc, 0, len(ids))
		for _, id := range ids {
			doc, err := i.document(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					// 批次读取期间被删除
					if err := i.remove(id); err != nil {
						return total, err
					}
					continue
				}
				return total, err
			}
			docs = append(docs, *doc)
		}
		if len(docs) > 0 {
			if err := i.index.IndexTickets(docs); err != nil {
				return total, fmt.Errorf("index batch after %d: %w", after, err)
			}
		}
		total += len(docs)
		after = ids[len(ids)-1]

		i.logger.Info("Reindexed ticket batch",
			zap.Int("batch_size", len(docs)),
			zap.Int("total", total),
		)
		if len(ids) < batch {
			return total, nil
		}
	}
}

func (i *TicketIndexer) remove(ticketID int64) error {
	i.logger.Info("Ticket gone, removing from index", zap.Int64("ticket_id", ticketID))
	if err := i.index.DeleteTicket(ticketID); err != nil {
		return fmt.Errorf("delete ticket %d from index: %w", ticketID, err)
	}
	return nil
}

// document body 只包含客户可见的消息，内部备注不进索引
func (i *TicketIndexer) document(ctx context.Context, ticketID int64) (*search.TicketDoc, error) {
	t, err := i.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := i.tickets.ListMessages(ctx, ticketID, false)
	if err != nil {
		return nil, err
	}

	bodies := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Internal {
			continue
		}
		bodies = append(bodies, m.Body)
	}

	return &search.TicketDoc{
		ID:        t.ID,
		TenantID:  t.TenantID,
		Number:    t.Number,
		Subject:   t.Subject,
		Body:      strings.Join(bodies, "\n\n"),
		Status:    t.Status,
		Category:  t.Category,
		Priority:  t.Priority,
		UpdatedAt: t.UpdatedAt.Unix(),
	}, nil
}
