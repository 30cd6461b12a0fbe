package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/repository"
)

// NotificationStore 由 repository.NotificationRepository 实现
type NotificationStore interface {
	List(ctx context.Context, f model.NotificationFilter) ([]model.Notification, error)
	CountUnread(ctx context.Context, tenantID, userID int64) (int, error)
	MarkRead(ctx context.Context, tenantID, userID, id int64) error
	MarkAllRead(ctx context.Context, tenantID, userID int64) (int64, error)
	Delete(ctx context.Context, tenantID, userID, id int64) error
}

type NotificationService struct {
	store  NotificationStore
	logger *zap.Logger
}

func NewNotificationService(store NotificationStore, logger *zap.Logger) *NotificationService {
	return &NotificationService{store: store, logger: logger}
}

type NotificationList struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

func (s *NotificationService) List(ctx context.Context, actor Actor, unreadOnly bool, limit, offset int) (*NotificationList, error) {
	if actor.TenantID == 0 {
		return &NotificationList{Items: []model.Notification{}}, nil
	}
	items, err := s.store.List(ctx, model.NotificationFilter{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &NotificationList{Items: items, Unread: unread}, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id int64) error {
	return mapNotFound(s.store.MarkRead(ctx, actor.TenantID, actor.UserID, id))
}

func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	return s.store.MarkAllRead(ctx, actor.TenantID, actor.UserID)
}

func (s *NotificationService) Delete(ctx context.Context, actor Actor, id int64) error {
	return mapNotFound(s.store.Delete(ctx, actor.TenantID, actor.UserID, id))
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
