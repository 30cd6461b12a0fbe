package payments

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/config"
)

const testSecret = "whsec_test_secret"

func newTestStripe() *Stripe {
	return NewStripe(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testSecret,
		Prices: map[string]string{
			model.PlanStarter: "price_starter",
			model.PlanGrowth:  "price_growth",
			model.PlanPro:     "price_pro",
		},
	}, "https://dashboard.example.com", zap.NewNop())
}

func signedEvent(t *testing.T, secret string, evt map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func subscriptionEvent(eventType, status string) map[string]any {
	return map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"created":     1700000000,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "sub_1",
				"object":               "subscription",
				"customer":             "cus_1",
				"status":               status,
				"current_period_end":   1702592000,
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"tenant_id": "42"},
				"items": map[string]any{
					"object": "list",
					"data": []map[string]any{
						{"id": "si_1", "object": "subscription_item", "price": map[string]any{"id": "price_growth", "object": "price"}},
					},
				},
			},
		},
	}
}

func TestVerifyWebhookAcceptsValidSignature(t *testing.T) {
	s := newTestStripe()
	payload, header := signedEvent(t, testSecret, subscriptionEvent(EventSubscriptionUpdated, "active"))

	evt, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventSubscriptionUpdated, string(evt.Type))
}

func TestVerifyWebhookRejectsWrongSecret(t *testing.T) {
	s := newTestStripe()
	payload, header := signedEvent(t, "whsec_other", subscriptionEvent(EventSubscriptionUpdated, "active"))

	_, err := s.VerifyWebhook(payload, header)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	s := newTestStripe()
	payload, header := signedEvent(t, testSecret, subscriptionEvent(EventSubscriptionUpdated, "active"))
	payload = append(payload[:len(payload)-1], []byte(` `+"}")...)

	_, err := s.VerifyWebhook(payload, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNormalizeSubscriptionEvent(t *testing.T) {
	s := newTestStripe()
	payload, header := signedEvent(t, testSecret, subscriptionEvent(EventSubscriptionUpdated, "past_due"))
	evt, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)

	n, err := s.Normalize(evt)
	require.NoError(t, err)

	assert.Equal(t, int64(42), n.TenantID)
	assert.Equal(t, "cus_1", n.CustomerID)
	assert.Equal(t, "sub_1", n.SubscriptionID)
	assert.Equal(t, "past_due", n.VendorStatus)
	assert.Equal(t, model.PlanGrowth, n.Plan)
	require.NotNil(t, n.CurrentPeriodEnd)
	assert.Equal(t, int64(1702592000), n.CurrentPeriodEnd.Unix())
	require.NotNil(t, n.CancelAtPeriodEnd)
	assert.True(t, *n.CancelAtPeriodEnd)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), n.Created)
}

func TestNormalizeCheckoutCompleted(t *testing.T) {
	s := newTestStripe()
	payload, header := signedEvent(t, testSecret, map[string]any{
		"id":          "evt_2",
		"object":      "event",
		"type":        EventCheckoutCompleted,
		"created":     1700000000,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "cs_1",
				"object":              "checkout.session",
				"client_reference_id": "7",
				"customer":            "cus_7",
				"subscription":        "sub_7",
				"metadata":            map[string]string{"plan": "pro", "tenant_id": "7"},
			},
		},
	})
	evt, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)

	n, err := s.Normalize(evt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.TenantID)
	assert.Equal(t, "cus_7", n.CustomerID)
	assert.Equal(t, "sub_7", n.SubscriptionID)
	assert.Equal(t, model.PlanPro, n.Plan)
	assert.Equal(t, "active", n.VendorStatus)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		"active":             model.SubscriptionActive,
		"trialing":           model.SubscriptionTrialing,
		"past_due":           model.SubscriptionPastDue,
		"unpaid":             model.SubscriptionUnpaid,
		"canceled":           model.SubscriptionCanceled,
		"incomplete":         model.SubscriptionIncomplete,
		"incomplete_expired": model.SubscriptionCanceled,
		"paused":             model.SubscriptionPaused,
		"something_new":      model.SubscriptionIncomplete,
		"":                   model.SubscriptionIncomplete,
	}
	for vendor, want := range cases {
		assert.Equal(t, want, MapStatus(vendor), vendor)
	}
}

func TestPriceLookup(t *testing.T) {
	s := newTestStripe()

	price, ok := s.PriceFor(model.PlanStarter)
	assert.True(t, ok)
	assert.Equal(t, "price_starter", price)

	_, ok = s.PriceFor("enterprise")
	assert.False(t, ok)

	assert.Equal(t, model.PlanPro, s.PlanForPrice("price_pro"))
	assert.Empty(t, s.PlanForPrice("price_unknown"))
}
