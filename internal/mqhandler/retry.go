package mqhandler

import (
	"context"

	"go.uber.org/zap"

	"baydigital/pkg/logger"
	"baydigital/pkg/mq"
	"baydigital/pkg/util"
)

const maxRetries = 5

// retryPolicy 可重试错误重新入队，超过 maxRetries 或不可重试的送 DLQ
type retryPolicy struct {
	counter *util.RetryCounter
	logger  *zap.Logger
}

func (p retryPolicy) fail(ctx context.Context, retryKey string, err error) error {
	isRetryable, errType := util.IsRetryableError(err)

	var retryCount int64
	if p.counter != nil {
		retryCount, _ = p.counter.IncrementAndGet(ctx, retryKey)
	}
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("retry_key", retryKey),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		log.Warn("Handler failed, will retry")
		return err
	}

	log.Error("Handler failed permanently")
	p.done(ctx, retryKey)
	return mq.Permanent(err)
}

// softFail 用于尽力而为的步骤：可重试错误在额度内重新入队，其余只记录日志并确认消息
func (p retryPolicy) softFail(ctx context.Context, retryKey string, err error) error {
	isRetryable, errType := util.IsRetryableError(err)

	var retryCount int64
	if isRetryable && p.counter != nil {
		retryCount, _ = p.counter.IncrementAndGet(ctx, retryKey)
	}
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("retry_key", retryKey),
		zap.String("error_type", errType),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		log.Warn("Best-effort step failed, will retry")
		return err
	}

	log.Warn("Best-effort step skipped")
	p.done(ctx, retryKey)
	return nil
}

func (p retryPolicy) done(ctx context.Context, retryKey string) {
	if p.counter != nil {
		_ = p.counter.Reset(ctx, retryKey)
	}
}

