package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"baydigital/pkg/metrics"
)

// Event 推送到 SSE 客户端的消息；UserID 为空时发给整个租户
type Event struct {
	Type   string          `json:"type"`
	UserID *int64          `json:"user_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// VisibleTo 事件是否应推送给该用户
func (e Event) VisibleTo(userID int64) bool {
	return e.UserID == nil || *e.UserID == userID
}

func Channel(tenantID int64) string {
	return "realtime:tenant:" + strconv.FormatInt(tenantID, 10)
}

// Hub 基于 Redis pub/sub 的变更推送；api 进程订阅，worker 进程发布
type Hub struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHub(rdb *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{rdb: rdb, logger: logger}
}

func (h *Hub) Publish(ctx context.Context, tenantID int64, eventType string, userID *int64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal realtime data: %w", err)
	}
	msg, err := json.Marshal(Event{Type: eventType, UserID: userID, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}

	if err := h.rdb.Publish(ctx, Channel(tenantID), msg).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

// Subscription 单个 SSE 连接的订阅
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe 订阅租户频道；调用方必须 Close
func (h *Hub) Subscribe(ctx context.Context, tenantID int64) (*Subscription, error) {
	ps := h.rdb.Subscribe(ctx, Channel(tenantID))
	// 等待订阅确认，保证返回后不会丢消息
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe realtime: %w", err)
	}

	sub := &Subscription{
		pubsub: ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	metrics.RealtimeSubscribers.Inc()

	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer metrics.RealtimeSubscribers.Dec()

		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				h.logger.Warn("Dropping malformed realtime event",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			select {
			case sub.events <- evt:
			default:
				// 慢客户端丢弃，前端重连后会重新拉取列表
				h.logger.Warn("Realtime subscriber too slow, dropping event",
					zap.Int64("tenant_id", tenantID),
					zap.String("type", evt.Type),
				)
			}
		}
	}()

	return sub, nil
}
