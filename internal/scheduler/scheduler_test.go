package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingPublisher struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (c *countingPublisher) PublishDue(ctx context.Context, limit int) (int, error) {
	c.calls.Add(1)
	c.limit.Store(int32(limit))
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func TestRunOnce(t *testing.T) {
	pub := &countingPublisher{}
	NewPostScheduler(pub, "", zap.NewNop()).RunOnce()

	assert.Equal(t, int32(1), pub.calls.Load())
	assert.Equal(t, int32(100), pub.limit.Load())
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	pub := &countingPublisher{err: errors.New("db down")}
	NewPostScheduler(pub, "", zap.NewNop()).RunOnce()
	assert.Equal(t, int32(1), pub.calls.Load())
}

func TestInvalidSpec(t *testing.T) {
	s := NewPostScheduler(&countingPublisher{}, "every minute please", zap.NewNop())
	assert.Error(t, s.Start())
}

func TestScheduledRun(t *testing.T) {
	pub := &countingPublisher{}
	s := NewPostScheduler(pub, "@every 1s", zap.NewNop())
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return pub.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
