package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/internal/integration/payments"
	"baydigital/internal/model"
	"baydigital/pkg/rbac"
)

type billingFixture struct {
	subs    *fakeSubscriptions
	gateway *fakeGateway
	deduper *fakeDeduper
	svc     *BillingService
}

func newBillingFixture() *billingFixture {
	f := &billingFixture{
		subs: newFakeSubscriptions(),
		gateway: &fakeGateway{
			prices: map[string]string{model.PlanStarter: "price_s", model.PlanGrowth: "price_g", model.PlanPro: "price_p"},
			events: map[string]*payments.Event{},
		},
		deduper: newFakeDeduper(),
	}
	f.svc = NewBillingService(f.subs, f.gateway, f.deduper, zap.NewNop())
	return f
}

// signed 注册一个“签名正确”的事件，返回签名
func (f *billingFixture) signed(evt *payments.Event) string {
	sig := "sig-" + evt.ID
	f.gateway.events[sig] = evt
	return sig
}

var clientActor = Actor{UserID: 10, TenantID: 7, Role: rbac.RoleClient}

func TestCheckout(t *testing.T) {
	f := newBillingFixture()

	url, err := f.svc.Checkout(context.Background(), clientActor, "owner@shop.test", " Growth ")
	require.NoError(t, err)
	assert.Contains(t, url, "checkout")
	require.NotNil(t, f.gateway.checkoutReq)
	assert.Equal(t, int64(7), f.gateway.checkoutReq.TenantID)
	assert.Equal(t, model.PlanGrowth, f.gateway.checkoutReq.Plan)
	assert.Empty(t, f.gateway.checkoutReq.CustomerID)
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	f := newBillingFixture()
	_, err := f.svc.Checkout(context.Background(), clientActor, "", "enterprise")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCheckoutAlreadyOnPlan(t *testing.T) {
	f := newBillingFixture()
	f.subs.byTenant[7] = &model.Subscription{TenantID: 7, Plan: model.PlanPro, Status: model.SubscriptionActive, StripeCustomerID: "cus_1"}

	_, err := f.svc.Checkout(context.Background(), clientActor, "", model.PlanPro)
	assert.ErrorIs(t, err, ErrConflict)

	// 换套餐时复用已有 customer
	_, err = f.svc.Checkout(context.Background(), clientActor, "", model.PlanStarter)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", f.gateway.checkoutReq.CustomerID)
}

func TestCheckoutUpstreamFailure(t *testing.T) {
	f := newBillingFixture()
	f.gateway.err = errors.New("stripe down")

	_, err := f.svc.Checkout(context.Background(), clientActor, "", model.PlanStarter)
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "stripe", up.Provider)
}

func TestPortal(t *testing.T) {
	f := newBillingFixture()

	_, err := f.svc.Portal(context.Background(), clientActor)
	assert.ErrorIs(t, err, ErrConflict)

	f.subs.byTenant[7] = &model.Subscription{TenantID: 7, StripeCustomerID: "cus_9"}
	url, err := f.svc.Portal(context.Background(), clientActor)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, "cus_9", f.gateway.portalFor)
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newBillingFixture()
	_, err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, f.subs.processed)
}

func TestWebhookCheckoutActivatesSubscription(t *testing.T) {
	f := newBillingFixture()
	sig := f.signed(&payments.Event{
		ID: "evt_1", Type: payments.EventCheckoutCompleted, Created: time.Now(),
		TenantID: 7, CustomerID: "cus_1", SubscriptionID: "sub_1", Plan: model.PlanGrowth,
	})

	out, err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), sig)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.False(t, out.Ignored)

	sub := f.subs.byTenant[7]
	require.NotNil(t, sub)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Equal(t, model.PlanGrowth, sub.Plan)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)

	require.Len(t, f.subs.outbox, 2)
	updated := f.subs.outbox[0].Payload.(mqcontracts.SubscriptionUpdatedPayload)
	assert.Equal(t, model.SubscriptionNone, updated.PreviousStatus)
	assert.Equal(t, model.SubscriptionActive, updated.Status)
	note := f.subs.outbox[1].Payload.(mqcontracts.NotificationCreatedPayload)
	assert.Equal(t, "billing.activated", note.Type)
	assert.Equal(t, "stripe:evt_1", note.DedupKey)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	f := newBillingFixture()
	sig := f.signed(&payments.Event{ID: "evt_dup", Type: payments.EventCheckoutCompleted, Created: time.Now(), TenantID: 7, Plan: model.PlanStarter})

	_, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)

	out, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, f.subs.outbox, 2)

	// Redis key 过期后仍由 webhook_events 兜底
	f.deduper.Release(context.Background(), webhookDedupScope, "evt_dup")
	out, err = f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, f.subs.outbox, 2)
}

func TestWebhookFailureReleasesDedupKey(t *testing.T) {
	f := newBillingFixture()
	sig := f.signed(&payments.Event{ID: "evt_retry", Type: payments.EventCheckoutCompleted, Created: time.Now(), TenantID: 7, Plan: model.PlanStarter})
	f.subs.failNext = errors.New("db down")

	_, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.Error(t, err)
	assert.NotContains(t, f.subs.processed, "evt_retry")

	out, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, model.SubscriptionActive, f.subs.byTenant[7].Status)
}

func TestWebhookOutOfOrderEventIgnored(t *testing.T) {
	f := newBillingFixture()
	now := time.Now()
	newer := f.signed(&payments.Event{
		ID: "evt_new", Type: payments.EventSubscriptionDeleted, Created: now,
		TenantID: 7, SubscriptionID: "sub_1",
	})
	older := f.signed(&payments.Event{
		ID: "evt_old", Type: payments.EventSubscriptionUpdated, Created: now.Add(-time.Minute),
		TenantID: 7, SubscriptionID: "sub_1", VendorStatus: "active",
	})

	_, err := f.svc.HandleWebhook(context.Background(), nil, newer)
	require.NoError(t, err)
	out, err := f.svc.HandleWebhook(context.Background(), nil, older)
	require.NoError(t, err)

	assert.True(t, out.Ignored)
	assert.Equal(t, model.SubscriptionCanceled, f.subs.byTenant[7].Status)
	assert.True(t, f.subs.processed["evt_old"])
}

func TestWebhookResolvesTenantByCustomer(t *testing.T) {
	f := newBillingFixture()
	f.subs.byTenant[7] = &model.Subscription{ID: 70, TenantID: 7, StripeCustomerID: "cus_7", Plan: model.PlanPro, Status: model.SubscriptionActive}
	sig := f.signed(&payments.Event{
		ID: "evt_fail", Type: payments.EventInvoicePaymentFailed, Created: time.Now(),
		CustomerID: "cus_7", AmountCents: 4900, Currency: "usd",
	})

	_, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)

	assert.Equal(t, model.SubscriptionPastDue, f.subs.byTenant[7].Status)
	assert.Equal(t, model.PlanPro, f.subs.byTenant[7].Plan)

	note := f.subs.outbox[len(f.subs.outbox)-1].Payload.(mqcontracts.NotificationCreatedPayload)
	assert.Equal(t, "billing.payment_failed", note.Type)
	assert.True(t, note.Email)
	assert.Contains(t, note.Body, "49.00 USD")
}

func TestWebhookUnknownTenantRecordedOnly(t *testing.T) {
	f := newBillingFixture()
	sig := f.signed(&payments.Event{ID: "evt_orphan", Type: payments.EventSubscriptionUpdated, Created: time.Now(), CustomerID: "cus_unknown"})

	out, err := f.svc.HandleWebhook(context.Background(), nil, sig)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.True(t, f.subs.processed["evt_orphan"])
	assert.Empty(t, f.subs.outbox)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "19.05 EUR", formatAmount(1905, "eur"))
	assert.Equal(t, "0.00 USD", formatAmount(0, ""))
}
