package mqhandler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/pkg/mq"
	"baydigital/pkg/search"
)

func newTicketHandler(f *fixture, idx *fakeIndexer) *TicketEventsHandler {
	return NewTicketEventsHandler(f.notifier, idx, f.alerter, f.mail, f.deduper, f.retries, "https://admin.baydigital.test", testLogger())
}

func TestTicketCreatedIndexesAndAlertsStaff(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndexer{}
	h := newTicketHandler(f, idx)
	raw := mustJSON(t, mqcontracts.TicketCreatedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", Subject: "Site is down",
		Category: "technical", Priority: "urgent", CreatedAt: time.Now(),
	})

	require.NoError(t, h.HandleCreated(context.Background(), raw))

	assert.Equal(t, []int64{42}, idx.indexed)
	require.Len(t, f.alerter.texts, 1)
	assert.Contains(t, f.alerter.texts[0], "BD-1A2B3C")
	assert.Contains(t, f.alerter.texts[0], "https://admin.baydigital.test/tickets/42")
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, []string{"support@baydigital.test"}, f.mail.sent[0].To)

	// 重投只重新索引，不重复告警
	require.NoError(t, h.HandleCreated(context.Background(), raw))
	assert.Len(t, idx.indexed, 2)
	assert.Len(t, f.alerter.texts, 1)
	assert.Len(t, f.mail.sent, 1)
}

func TestTicketCreatedAlertFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.alerter.err = errors.New("telegram: chat not found")
	h := newTicketHandler(f, &fakeIndexer{})

	err := h.HandleCreated(context.Background(), mustJSON(t, mqcontracts.TicketCreatedPayload{TicketID: 1, TenantID: 7}))
	require.NoError(t, err)
	assert.True(t, f.deduper.AcquireOnce(context.Background(), "alert:ticket_created", "1"))
}

func TestTicketAlertsSurviveSearchOutage(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{err: fmt.Errorf("index ticket 1: %w", search.ErrUnavailable)})
	raw := mustJSON(t, mqcontracts.TicketCreatedPayload{TicketID: 1, TenantID: 7, Number: "BD-000001"})

	// 索引失败重新入队，但告警已经发出
	err := h.HandleCreated(context.Background(), raw)
	require.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
	require.Len(t, f.alerter.texts, 1)
	require.Len(t, f.mail.sent, 1)

	for i := 0; i < maxRetries-1; i++ {
		require.Error(t, h.HandleCreated(context.Background(), raw))
	}
	// 超过重试次数后确认消息，不进 DLQ
	require.NoError(t, h.HandleCreated(context.Background(), raw))
	assert.Len(t, f.alerter.texts, 1)
	assert.Len(t, f.mail.sent, 1)
}

func TestStaffReplyNotifiesWhileSearchDown(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{err: search.ErrUnavailable})

	err := h.HandleMessage(context.Background(), mustJSON(t, mqcontracts.TicketMessageCreatedPayload{
		TicketID: 42, MessageID: 903, TenantID: 7, Number: "BD-1A2B3C", AuthorRole: "admin",
	}))
	require.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
	require.Len(t, f.store.rows, 1)
	assert.Equal(t, "ticket.reply", f.store.rows[0].Type)
}

func TestIndexRejectionIsAcked(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{err: errors.New("invalid document")})

	err := h.HandleStatusChanged(context.Background(), mustJSON(t, mqcontracts.TicketStatusChangedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", From: "open", To: "resolved",
		ChangedBy: 1, ChangedByRole: "admin", ChangedAt: time.Now(),
	}))
	require.NoError(t, err)
	assert.Len(t, f.store.rows, 1)
}

func TestReplyStatusChangeIsNotNotifiedTwice(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndexer{}
	h := newTicketHandler(f, idx)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.HandleMessage(context.Background(), mustJSON(t, mqcontracts.TicketMessageCreatedPayload{
		TicketID: 42, MessageID: 904, TenantID: 7, Number: "BD-1A2B3C", AuthorRole: "admin", CreatedAt: at,
	})))
	require.NoError(t, h.HandleStatusChanged(context.Background(), mustJSON(t, mqcontracts.TicketStatusChangedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", From: "open", To: "waiting_on_customer",
		ChangedBy: 1, ChangedByRole: "admin", ViaReply: true, ChangedAt: at,
	})))

	require.Len(t, f.store.rows, 1)
	assert.Equal(t, "ticket.reply", f.store.rows[0].Type)
	assert.Empty(t, f.alerter.texts)
	assert.Equal(t, []int64{42, 42}, idx.indexed)

	// 客户回复把工单重新打开：只有回复告警
	require.NoError(t, h.HandleStatusChanged(context.Background(), mustJSON(t, mqcontracts.TicketStatusChangedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", From: "waiting_on_customer", To: "open",
		ChangedBy: 10, ChangedByRole: "client", ViaReply: true, ChangedAt: at.Add(time.Minute),
	})))
	assert.Empty(t, f.alerter.texts)
}

func TestStaffReplyNotifiesCustomer(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{})

	err := h.HandleMessage(context.Background(), mustJSON(t, mqcontracts.TicketMessageCreatedPayload{
		TicketID: 42, MessageID: 900, TenantID: 7, Number: "BD-1A2B3C", Subject: "Site is down",
		AuthorID: 1, AuthorRole: "admin",
	}))
	require.NoError(t, err)

	require.Len(t, f.store.rows, 1)
	n := f.store.rows[0]
	assert.Equal(t, "ticket.reply", n.Type)
	assert.Nil(t, n.UserID)
	assert.Equal(t, "/tickets/42", n.Link)
	assert.Equal(t, "ticket_message:900", n.DedupKey)
	assert.Len(t, f.mail.sent, 1)
	assert.Empty(t, f.alerter.texts)
}

func TestInternalNoteNeverReachesCustomer(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndexer{}
	h := newTicketHandler(f, idx)

	err := h.HandleMessage(context.Background(), mustJSON(t, mqcontracts.TicketMessageCreatedPayload{
		TicketID: 42, MessageID: 901, TenantID: 7, AuthorRole: "admin", Internal: true,
	}))
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, idx.indexed)
	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.mail.sent)
	assert.Empty(t, f.alerter.texts)
}

func TestCustomerReplyAlertsStaff(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{})

	err := h.HandleMessage(context.Background(), mustJSON(t, mqcontracts.TicketMessageCreatedPayload{
		TicketID: 42, MessageID: 902, TenantID: 7, Number: "BD-1A2B3C", AuthorRole: "client",
	}))
	require.NoError(t, err)
	assert.Empty(t, f.store.rows)
	require.Len(t, f.alerter.texts, 1)
	assert.Contains(t, f.alerter.texts[0], "Customer replied on BD-1A2B3C")
}

func TestStatusChangedByStaffNotifiesCustomer(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{})
	raw := mustJSON(t, mqcontracts.TicketStatusChangedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", From: "open", To: "waiting_on_customer",
		ChangedBy: 1, ChangedByRole: "admin", ChangedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})

	require.NoError(t, h.HandleStatusChanged(context.Background(), raw))
	require.NoError(t, h.HandleStatusChanged(context.Background(), raw))

	require.Len(t, f.store.rows, 1)
	assert.Equal(t, "Ticket BD-1A2B3C is now waiting on you", f.store.rows[0].Title)
	assert.Empty(t, f.mail.sent)
}

func TestStatusChangedByCustomerAlertsStaff(t *testing.T) {
	f := newFixture(t)
	h := newTicketHandler(f, &fakeIndexer{})

	err := h.HandleStatusChanged(context.Background(), mustJSON(t, mqcontracts.TicketStatusChangedPayload{
		TicketID: 42, TenantID: 7, Number: "BD-1A2B3C", From: "resolved", To: "closed",
		ChangedBy: 10, ChangedByRole: "client", ChangedAt: time.Now(),
	}))
	require.NoError(t, err)
	assert.Empty(t, f.store.rows)
	require.Len(t, f.alerter.texts, 1)
	assert.Contains(t, f.alerter.texts[0], "closed")
}
