package util

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("limit exceeded")

// consumeScript 原子地增加计数；超过上限时回滚并返回 -1
var consumeScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	redis.call("DECR", KEYS[1])
	return -1
end
return current
`)

// refundScript 只对仍在窗口内且大于 0 的计数减一，不创建 key，不改 TTL
var refundScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= 0 then
	return 0
end
return redis.call("DECR", KEYS[1])
`)

// Limiter 基于 Redis 计数的固定窗口限额，用于 AI 月度配额和公开表单限流
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Consume 在 window 内占用一次额度，返回占用后的计数；超出 limit 返回 ErrLimitExceeded
func (l *Limiter) Consume(ctx context.Context, key string, limit int64, window time.Duration) (int64, error) {
	n, err := consumeScript.Run(ctx, l.rdb, []string{key}, limit, window.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return limit, ErrLimitExceeded
	}
	return n, nil
}

// Refund 归还一次额度（下游调用失败时）
func (l *Limiter) Refund(ctx context.Context, key string) error {
	return refundScript.Run(ctx, l.rdb, []string{key}).Err()
}

// Used 返回当前窗口已用数量
func (l *Limiter) Used(ctx context.Context, key string) (int64, error) {
	n, err := l.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
