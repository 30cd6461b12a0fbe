package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/internal/integration/llm"
	"baydigital/internal/model"
	"baydigital/pkg/util"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type contentFixture struct {
	llm         *fakeCompleter
	generations *fakeGenerations
	subs        *fakeSubscriptions
	svc         *ContentService
}

func newContentFixture(t *testing.T) *contentFixture {
	_, rdb := newTestRedis(t)
	f := &contentFixture{
		llm:         &fakeCompleter{},
		generations: &fakeGenerations{},
		subs:        newFakeSubscriptions(),
	}
	f.svc = NewContentService(f.llm, util.NewLimiter(rdb), f.generations, f.subs, zap.NewNop())
	f.svc.now = func() time.Time { return time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC) }
	return f
}

var aiActor = Actor{UserID: 10, TenantID: 7, Role: "client"}

func TestGenerateRecordsHistoryAndQuota(t *testing.T) {
	f := newContentFixture(t)
	f.subs.byTenant[7] = &model.Subscription{TenantID: 7, Plan: model.PlanStarter, Status: model.SubscriptionActive}

	res, err := f.svc.Generate(context.Background(), aiActor, GenerateInput{
		Kind: "social_post", Topic: "weekend brunch special", Platform: "instagram", Length: "short",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fresh sourdough every morning!", res.Content)
	assert.Equal(t, Quota{Plan: model.PlanStarter, Used: 1, Limit: 20}, res.Quota)
	assert.Equal(t, 12, res.Usage.CompletionTokens)

	require.Len(t, f.generations.rows, 1)
	assert.Equal(t, "professional", f.generations.rows[0].Tone)

	require.Len(t, f.llm.messages, 2)
	assert.Contains(t, f.llm.messages[1].Content, "weekend brunch special")
	assert.Contains(t, f.llm.messages[1].Content, "instagram")
}

func TestGenerateQuotaExceeded(t *testing.T) {
	f := newContentFixture(t)

	// 未订阅：每月 5 次
	for i := 0; i < 5; i++ {
		_, err := f.svc.Generate(context.Background(), aiActor, GenerateInput{Kind: "email", Topic: "newsletter"})
		require.NoError(t, err)
	}
	_, err := f.svc.Generate(context.Background(), aiActor, GenerateInput{Kind: "email", Topic: "newsletter"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 5, f.llm.calls)

	q, err := f.svc.Quota(context.Background(), aiActor)
	require.NoError(t, err)
	assert.Equal(t, &Quota{Plan: "none", Used: 5, Limit: 5}, q)
}

func TestGenerateRefundsQuotaOnLLMFailure(t *testing.T) {
	f := newContentFixture(t)
	f.llm.err = &llm.APIError{StatusCode: 503, Message: "overloaded"}

	_, err := f.svc.Generate(context.Background(), aiActor, GenerateInput{Kind: "ad_copy", Topic: "summer sale"})
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "llm", up.Provider)

	q, err := f.svc.Quota(context.Background(), aiActor)
	require.NoError(t, err)
	assert.Zero(t, q.Used)
	assert.Empty(t, f.generations.rows)
}

func TestGenerateWithoutLLMKeyIsUnavailable(t *testing.T) {
	f := newContentFixture(t)
	f.llm.err = llm.ErrNotConfigured

	_, err := f.svc.Generate(context.Background(), aiActor, GenerateInput{Kind: "email", Topic: "newsletter"})
	require.ErrorIs(t, err, ErrUnavailable)
	var up *UpstreamError
	assert.False(t, errors.As(err, &up))

	q, err := f.svc.Quota(context.Background(), aiActor)
	require.NoError(t, err)
	assert.Zero(t, q.Used)
}

func TestGenerateValidation(t *testing.T) {
	f := newContentFixture(t)

	cases := []struct {
		in    GenerateInput
		field string
	}{
		{GenerateInput{Kind: "poem", Topic: "anything"}, "kind"},
		{GenerateInput{Kind: "email", Topic: "x"}, "topic"},
		{GenerateInput{Kind: "email", Topic: "sale", Tone: "angry"}, "tone"},
		{GenerateInput{Kind: "email", Topic: "sale", Length: "epic"}, "length"},
		{GenerateInput{Kind: "social_post", Topic: "sale", Platform: "myspace"}, "platform"},
	}
	for _, tc := range cases {
		_, err := f.svc.Generate(context.Background(), aiActor, tc.in)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, tc.field)
		assert.Equal(t, tc.field, verr.Field)
	}
	assert.Zero(t, f.llm.calls)
}

func TestQuotaKeyAndExpiry(t *testing.T) {
	f := newContentFixture(t)
	assert.Equal(t, "ai:quota:7:202605", f.svc.quotaKey(7))
	// 5 月 20 日 12:00 到 6 月 1 日，再加一天
	assert.Equal(t, 11*24*time.Hour+12*time.Hour+24*time.Hour, f.svc.untilMonthEnd())
}

func TestInactivePlanFallsBackToFreeQuota(t *testing.T) {
	f := newContentFixture(t)
	f.subs.byTenant[7] = &model.Subscription{TenantID: 7, Plan: model.PlanPro, Status: model.SubscriptionPastDue}

	q, err := f.svc.Quota(context.Background(), aiActor)
	require.NoError(t, err)
	assert.Equal(t, "none", q.Plan)
	assert.Equal(t, int64(5), q.Limit)
}
