package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/pkg/db"
)

// testPool 连接 TEST_DATABASE_URL 指向的库，执行迁移并清空业务表；未设置时跳过
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.ApplyMigrations(ctx, pool, zap.NewNop())
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		TRUNCATE tenants, users, subscriptions, webhook_events, tickets, ticket_messages,
		         notifications, social_posts, ai_generations, form_submissions, outbox_events
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return pool
}

// seedTenant 创建一个租户和它的 owner
func seedTenant(t *testing.T, pool *pgxpool.Pool, name string) (*model.Tenant, *model.User) {
	t.Helper()
	tenant := &model.Tenant{BusinessName: name, SiteKey: "site_" + name}
	owner := &model.User{Email: name + "@example.test", PasswordHash: "x", FullName: name, Role: "client"}
	err := NewAccountRepository(pool, zap.NewNop()).CreateTenantWithOwner(context.Background(), tenant, owner, nil)
	require.NoError(t, err)
	return tenant, owner
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}
