package mqhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"baydigital/internal/model"
	"baydigital/pkg/mailer"
	"baydigital/pkg/util"
)

type fakeNotifications struct {
	mu    sync.Mutex
	rows  []model.Notification
	seen  map[string]bool
	err   error
	calls int
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{seen: map[string]bool{}}
}

func (f *fakeNotifications) Insert(ctx context.Context, n *model.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if n.DedupKey != "" && f.seen[n.DedupKey] {
		return false, nil
	}
	f.seen[n.DedupKey] = true
	n.ID = int64(len(f.rows) + 1)
	n.CreatedAt = time.Now()
	f.rows = append(f.rows, *n)
	return true, nil
}

type published struct {
	TenantID  int64
	EventType string
	UserID    *int64
	Data      any
}

type fakeRealtime struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *fakeRealtime) Publish(ctx context.Context, tenantID int64, eventType string, userID *int64, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{tenantID, eventType, userID, data})
	return nil
}

type fakeMail struct {
	mu         sync.Mutex
	sent       []mailer.Message
	staff      []string
	err        error
	configured bool
}

func newFakeMail() *fakeMail {
	return &fakeMail{configured: true, staff: []string{"support@baydigital.test"}}
}

func (f *fakeMail) IsConfigured() bool { return f.configured }

func (f *fakeMail) StaffRecipients() []string { return f.staff }

func (f *fakeMail) Send(ctx context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRecipients map[int64][]string

func (f fakeRecipients) TenantEmails(ctx context.Context, tenantID int64) ([]string, error) {
	return f[tenantID], nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeAlerter) Alert(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

type fakeIndexer struct {
	indexed []int64
	err     error
}

func (f *fakeIndexer) Index(ctx context.Context, ticketID int64) error {
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, ticketID)
	return nil
}

// retryableErr 模拟可重试的上游错误
type retryableErr struct{}

func (retryableErr) Error() string   { return "upstream unavailable" }
func (retryableErr) Retryable() bool { return true }

type fixture struct {
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	deduper    *util.Deduper
	retries    *util.RetryCounter
	store      *fakeNotifications
	realtime   *fakeRealtime
	mail       *fakeMail
	recipients fakeRecipients
	alerter    *fakeAlerter
	notifier   *Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		mr:         mr,
		rdb:        rdb,
		deduper:    util.NewDeduper(rdb, time.Hour),
		retries:    util.NewRetryCounter(rdb, time.Hour),
		store:      newFakeNotifications(),
		realtime:   &fakeRealtime{},
		mail:       newFakeMail(),
		recipients: fakeRecipients{7: {"owner@acme.test", "staff@acme.test"}},
		alerter:    &fakeAlerter{},
	}
	f.notifier = NewNotifier(f.store, f.realtime, f.mail, f.recipients, f.deduper, testLogger())
	return f
}
