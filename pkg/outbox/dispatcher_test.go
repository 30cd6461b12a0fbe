package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	failed  []*Event
	sent    []int64
	marked  []int64
}

func (f *fakeStore) ClaimPending(ctx context.Context, limit int) ([]*Event, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeStore) MarkAsSent(ctx context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkAsFailed(ctx context.Context, id int64, maxRetries int) error {
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeStore) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	for _, e := range append(f.pending, f.failed...) {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrEventNotFound
}

func (f *fakeStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return f.failed, nil
}

type published struct {
	routingKey string
	traceID    string
	body       json.RawMessage
}

type fakePublisher struct {
	calls   []published
	failFor string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if routingKey == p.failFor {
		return errors.New("channel closed")
	}
	body, _ := json.Marshal(payload)
	p.calls = append(p.calls, published{routingKey: routingKey, traceID: trace.FromContext(ctx), body: body})
	return nil
}

func TestDispatcherPublishesAndMarks(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "ticket.created", Payload: json.RawMessage(`{"ticket_id":7,"trace_id":"abc"}`)},
		{ID: 2, RoutingKey: "form.submitted", Payload: json.RawMessage(`{"submission_id":3}`)},
	}}
	pub := &fakePublisher{failFor: "form.submitted"}

	d := NewDispatcher(store, pub, zap.NewNop())
	sent := d.ProcessPending(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Equal(t, []int64{2}, store.marked)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "abc", pub.calls[0].traceID)
	assert.JSONEq(t, `{"ticket_id":7,"trace_id":"abc"}`, string(pub.calls[0].body))
}

func TestDispatcherRejectsInvalidPayload(t *testing.T) {
	store := &fakeStore{pending: []*Event{{ID: 9, RoutingKey: "x", Payload: json.RawMessage(`{`)}}}
	pub := &fakePublisher{}

	NewDispatcher(store, pub, zap.NewNop()).ProcessPending(context.Background())

	assert.Empty(t, pub.calls)
	assert.Equal(t, []int64{9}, store.marked)
}

func TestReplayFailedEvents(t *testing.T) {
	store := &fakeStore{failed: []*Event{
		{ID: 4, RoutingKey: "notification.created", Payload: json.RawMessage(`{}`)},
		{ID: 5, RoutingKey: "broken", Payload: json.RawMessage(`{}`)},
	}}
	pub := &fakePublisher{failFor: "broken"}

	n, err := NewReplayService(store, pub, zap.NewNop()).ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{4}, store.sent)
	assert.Equal(t, []int64{5}, store.marked)
}

func TestReplayEventNotFound(t *testing.T) {
	err := NewReplayService(&fakeStore{}, &fakePublisher{}, zap.NewNop()).ReplayEvent(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
}
