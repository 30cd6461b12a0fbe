package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/model"
	"baydigital/internal/repository"
	"baydigital/pkg/outbox"
	"baydigital/pkg/rbac"
	"baydigital/pkg/search"
	"baydigital/pkg/trace"
)

var (
	ticketCategories = []string{"general", "billing", "technical", "content", "other"}
	ticketPriorities = []string{"low", "normal", "high", "urgent"}
	ticketStatuses   = []string{
		model.TicketOpen, model.TicketInProgress, model.TicketWaitingOnCustomer,
		model.TicketResolved, model.TicketClosed,
	}
)

const ticketNumberAttempts = 5

// TicketStore 由 repository.TicketRepository 实现
type TicketStore interface {
	Create(ctx context.Context, t *model.Ticket, first *model.TicketMessage, events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message) error
	Get(ctx context.Context, id int64) (*model.Ticket, error)
	List(ctx context.Context, f model.TicketFilter) ([]model.Ticket, error)
	ListMessages(ctx context.Context, ticketID int64, includeInternal bool) ([]model.TicketMessage, error)
	AddMessage(ctx context.Context, t *model.Ticket, m *model.TicketMessage, from, to string, events func(t *model.Ticket, m *model.TicketMessage) []outbox.Message) error
	UpdateStatus(ctx context.Context, t *model.Ticket, from, to string, events func(t *model.Ticket) []outbox.Message) error
}

// TicketSearcher 由 search.Meili 实现
type TicketSearcher interface {
	SearchTickets(q search.TicketQuery) ([]search.TicketHit, int, error)
}

type TicketService struct {
	tickets  TicketStore
	searcher TicketSearcher
	logger   *zap.Logger
}

func NewTicketService(tickets TicketStore, searcher TicketSearcher, logger *zap.Logger) *TicketService {
	return &TicketService{tickets: tickets, searcher: searcher, logger: logger}
}

type CreateTicketInput struct {
	TenantID      int64 // 仅员工代客户创建时使用
	Subject       string
	Body          string
	Category      string
	Priority      string
	AttachmentKey string
}

func (s *TicketService) Create(ctx context.Context, actor Actor, in CreateTicketInput) (*model.Ticket, error) {
	tenantID := actor.TenantID
	if actor.IsAdmin() && in.TenantID != 0 {
		tenantID = in.TenantID
	}
	if tenantID == 0 {
		return nil, invalid("tenant_id", "is required")
	}

	subject, err := requireLength("subject", in.Subject, 3, 200)
	if err != nil {
		return nil, err
	}
	body, err := requireLength("body", in.Body, 1, 10000)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "general"
	}
	if err := oneOf("category", category, ticketCategories...); err != nil {
		return nil, err
	}
	priority := strings.TrimSpace(in.Priority)
	if priority == "" {
		priority = "normal"
	}
	if err := oneOf("priority", priority, ticketPriorities...); err != nil {
		return nil, err
	}
	if err := checkAttachment(tenantID, in.AttachmentKey); err != nil {
		return nil, err
	}

	t := &model.Ticket{
		TenantID:  tenantID,
		CreatedBy: actor.UserID,
		Subject:   subject,
		Category:  category,
		Priority:  priority,
		Status:    model.TicketOpen,
	}
	first := &model.TicketMessage{
		AuthorID:      actor.UserID,
		AuthorRole:    actor.Role,
		Body:          body,
		AttachmentKey: in.AttachmentKey,
	}

	// 工单号随机生成，唯一约束冲突时重试
	for attempt := 1; ; attempt++ {
		t.Number = newTicketNumber()
		err = s.tickets.Create(ctx, t, first, func(t *model.Ticket, m *model.TicketMessage) []outbox.Message {
			return []outbox.Message{ticketCreatedMessage(ctx, t)}
		})
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt >= ticketNumberAttempts {
			return nil, err
		}
		s.logger.Warn("Ticket number collision, retrying", zap.String("number", t.Number))
	}

	s.logger.Info("Ticket created",
		zap.Int64("ticket_id", t.ID),
		zap.Int64("tenant_id", t.TenantID),
		zap.String("number", t.Number),
	)
	return t, nil
}

type TicketListInput struct {
	Status   string
	TenantID int64 // 员工可按租户过滤
	Limit    int
	Offset   int
}

func (s *TicketService) List(ctx context.Context, actor Actor, in TicketListInput) ([]model.Ticket, error) {
	if in.Status != "" {
		if err := oneOf("status", in.Status, ticketStatuses...); err != nil {
			return nil, err
		}
	}

	f := model.TicketFilter{Status: in.Status, Limit: in.Limit, Offset: in.Offset}
	switch {
	case !actor.IsAdmin():
		tenantID := actor.TenantID
		f.TenantID = &tenantID
	case in.TenantID != 0:
		tenantID := in.TenantID
		f.TenantID = &tenantID
	}
	return s.tickets.List(ctx, f)
}

type TicketDetail struct {
	*model.Ticket
	Messages []model.TicketMessage `json:"messages"`
}

// Get 其他租户的工单返回 ErrNotFound；客户看不到内部备注
func (s *TicketService) Get(ctx context.Context, actor Actor, id int64) (*TicketDetail, error) {
	t, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.tickets.ListMessages(ctx, t.ID, actor.IsAdmin())
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: t, Messages: msgs}, nil
}

type ReplyInput struct {
	Body          string
	AttachmentKey string
	Internal      bool
}

// Reply 追加消息并推进状态：
// 客户回复 waiting_on_customer → open；员工公开回复 → waiting_on_customer；内部备注不改状态
func (s *TicketService) Reply(ctx context.Context, actor Actor, id int64, in ReplyInput) (*model.TicketMessage, error) {
	body, err := requireLength("body", in.Body, 1, 10000)
	if err != nil {
		return nil, err
	}
	if in.Internal {
		if err := rbac.CheckPermission(actor.UserID, actor.Role, rbac.PermissionWriteInternalNote); err != nil {
			return nil, ErrForbidden
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		t, err := s.load(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		if t.Status == model.TicketClosed {
			return nil, fmt.Errorf("%w: ticket is closed", ErrConflict)
		}
		if err := checkAttachment(t.TenantID, in.AttachmentKey); err != nil {
			return nil, err
		}

		from := t.Status
		to := nextStatusOnReply(actor, from, in.Internal)
		m := &model.TicketMessage{
			AuthorID:      actor.UserID,
			AuthorRole:    actor.Role,
			Body:          body,
			AttachmentKey: in.AttachmentKey,
			Internal:      in.Internal,
		}

		err = s.tickets.AddMessage(ctx, t, m, from, to, func(t *model.Ticket, m *model.TicketMessage) []outbox.Message {
			msgs := []outbox.Message{ticketMessageMessage(ctx, t, m)}
			if from != to {
				msgs = append(msgs, ticketStatusMessage(ctx, t, from, actor, true))
			}
			return msgs
		})
		if errors.Is(err, repository.ErrConflict) {
			// 并发修改了状态，重新读取后再试
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: ticket was modified concurrently", ErrConflict)
}

func nextStatusOnReply(actor Actor, current string, internal bool) string {
	if internal {
		return current
	}
	if actor.IsAdmin() {
		return model.TicketWaitingOnCustomer
	}
	if current == model.TicketWaitingOnCustomer {
		return model.TicketOpen
	}
	return current
}

// UpdateStatus 客户只能关闭工单，或重新打开已解决的工单
func (s *TicketService) UpdateStatus(ctx context.Context, actor Actor, id int64, status string) (*model.Ticket, error) {
	status = strings.TrimSpace(status)
	if err := oneOf("status", status, ticketStatuses...); err != nil {
		return nil, err
	}

	t, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}

	if !rbac.HasPermission(actor.Role, rbac.PermissionSetAnyTicketState) {
		allowed := status == model.TicketClosed ||
			(status == model.TicketOpen && t.Status == model.TicketResolved)
		if !allowed {
			return nil, ErrForbidden
		}
	}

	from := t.Status
	err = s.tickets.UpdateStatus(ctx, t, from, status, func(t *model.Ticket) []outbox.Message {
		return []outbox.Message{ticketStatusMessage(ctx, t, from, actor, false)}
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: ticket status changed, reload and retry", ErrConflict)
		}
		return nil, err
	}
	return t, nil
}

type TicketSearchInput struct {
	Query    string
	Status   string
	TenantID int64
	Limit    int
	Offset   int
}

type TicketSearchResult struct {
	Hits  []search.TicketHit `json:"hits"`
	Total int                `json:"total"`
}

// Search 客户的查询总是带租户过滤
func (s *TicketService) Search(ctx context.Context, actor Actor, in TicketSearchInput) (*TicketSearchResult, error) {
	q, err := requireLength("q", in.Query, 1, 200)
	if err != nil {
		return nil, err
	}
	if in.Status != "" {
		if err := oneOf("status", in.Status, ticketStatuses...); err != nil {
			return nil, err
		}
	}
	if s.searcher == nil {
		return nil, ErrUnavailable
	}

	limit := in.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	query := search.TicketQuery{Text: q, Status: in.Status, Limit: limit, Offset: max(in.Offset, 0)}
	switch {
	case !actor.IsAdmin():
		tenantID := actor.TenantID
		query.TenantID = &tenantID
	case in.TenantID != 0:
		tenantID := in.TenantID
		query.TenantID = &tenantID
	}

	hits, total, err := s.searcher.SearchTickets(query)
	if err != nil {
		s.logger.Warn("Ticket search failed", zap.Error(err))
		return nil, ErrUnavailable
	}
	if hits == nil {
		hits = []search.TicketHit{}
	}
	return &TicketSearchResult{Hits: hits, Total: total}, nil
}

func (s *TicketService) load(ctx context.Context, actor Actor, id int64) (*model.Ticket, error) {
	t, err := s.tickets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !actor.canAccess(t.TenantID) {
		return nil, ErrNotFound
	}
	return t, nil
}

func checkAttachment(tenantID int64, key string) error {
	if key == "" {
		return nil
	}
	if !strings.HasPrefix(key, TenantKeyPrefix(tenantID)) || strings.Contains(key, "..") {
		return invalid("attachment_key", "does not belong to this account")
	}
	return nil
}

// newTicketNumber BD-XXXXXX
func newTicketNumber() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand 不可用时退化为时间戳
		n := time.Now().UnixNano()
		b = []byte{byte(n >> 16), byte(n >> 8), byte(n)}
	}
	return "BD-" + strings.ToUpper(hex.EncodeToString(b))
}

func ticketCreatedMessage(ctx context.Context, t *model.Ticket) outbox.Message {
	id := t.ID
	return outbox.Message{
		AggregateType: mqcontracts.AggregateTicket,
		AggregateID:   &id,
		RoutingKey:    mqcontracts.RoutingTicketCreated,
		Payload: mqcontracts.TicketCreatedPayload{
			TicketID:  t.ID,
			TenantID:  t.TenantID,
			Number:    t.Number,
			Subject:   t.Subject,
			Category:  t.Category,
			Priority:  t.Priority,
			CreatedBy: t.CreatedBy,
			TraceID:   trace.FromContext(ctx),
			CreatedAt: t.CreatedAt,
		},
	}
}

func ticketMessageMessage(ctx context.Context, t *model.Ticket, m *model.TicketMessage) outbox.Message {
	id := t.ID
	return outbox.Message{
		AggregateType: mqcontracts.AggregateTicket,
		AggregateID:   &id,
		RoutingKey:    mqcontracts.RoutingTicketMessage,
		Payload: mqcontracts.TicketMessageCreatedPayload{
			TicketID:   t.ID,
			MessageID:  m.ID,
			TenantID:   t.TenantID,
			Number:     t.Number,
			Subject:    t.Subject,
			AuthorID:   m.AuthorID,
			AuthorRole: m.AuthorRole,
			Internal:   m.Internal,
			Status:     t.Status,
			TraceID:    trace.FromContext(ctx),
			CreatedAt:  m.CreatedAt,
		},
	}
}

func ticketStatusMessage(ctx context.Context, t *model.Ticket, from string, actor Actor, viaReply bool) outbox.Message {
	id := t.ID
	return outbox.Message{
		AggregateType: mqcontracts.AggregateTicket,
		AggregateID:   &id,
		RoutingKey:    mqcontracts.RoutingTicketStatusChanged,
		Payload: mqcontracts.TicketStatusChangedPayload{
			TicketID:      t.ID,
			TenantID:      t.TenantID,
			Number:        t.Number,
			From:          from,
			To:            t.Status,
			ChangedBy:     actor.UserID,
			ChangedByRole: actor.Role,
			ViaReply:      viaReply,
			TraceID:       trace.FromContext(ctx),
			ChangedAt:     t.UpdatedAt,
		},
	}
}
