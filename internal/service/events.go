package service

import (
	"context"
	"time"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/pkg/outbox"
	"baydigital/pkg/trace"
)

type notificationSpec struct {
	UserID   *int64
	Type     string
	Title    string
	Body     string
	Link     string
	DedupKey string
	Email    bool
}

// notificationMessage 通知统一通过 notification.created 事件由 worker 落库
func notificationMessage(ctx context.Context, tenantID int64, n notificationSpec) outbox.Message {
	return outbox.Message{
		AggregateType: mqcontracts.AggregateNotification,
		AggregateID:   &tenantID,
		RoutingKey:    mqcontracts.RoutingNotificationCreated,
		Payload: mqcontracts.NotificationCreatedPayload{
			TenantID:  tenantID,
			UserID:    n.UserID,
			Type:      n.Type,
			Title:     n.Title,
			Body:      n.Body,
			Link:      n.Link,
			DedupKey:  n.DedupKey,
			Email:     n.Email,
			TraceID:   trace.FromContext(ctx),
			CreatedAt: time.Now().UTC(),
		},
	}
}

func emailMessage(ctx context.Context, p mqcontracts.EmailRequestedPayload) outbox.Message {
	p.TraceID = trace.FromContext(ctx)
	var aggID *int64
	if p.TenantID != 0 {
		aggID = &p.TenantID
	}
	return outbox.Message{
		AggregateType: mqcontracts.AggregateTenant,
		AggregateID:   aggID,
		RoutingKey:    mqcontracts.RoutingEmailRequested,
		Payload:       p,
	}
}
