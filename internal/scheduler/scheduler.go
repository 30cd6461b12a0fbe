package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultPublishSpec = "@every 1m"

// DuePublisher 由 service.SocialService 实现
type DuePublisher interface {
	PublishDue(ctx context.Context, limit int) (int, error)
}

// PostScheduler 定时发布到期的社交帖子；上一轮未结束时跳过本轮
type PostScheduler struct {
	cronEngine *cron.Cron
	posts      DuePublisher
	spec       string
	batch      int
	timeout    time.Duration
	logger     *zap.Logger
}

func NewPostScheduler(posts DuePublisher, spec string, logger *zap.Logger) *PostScheduler {
	if spec == "" {
		spec = DefaultPublishSpec
	}
	return &PostScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		posts:   posts,
		spec:    spec,
		batch:   100,
		timeout: 50 * time.Second,
		logger:  logger,
	}
}

func (s *PostScheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.spec, s.RunOnce); err != nil {
		return fmt.Errorf("add publish-due job %q: %w", s.spec, err)
	}
	s.cronEngine.Start()
	s.logger.Info("Post scheduler started", zap.String("spec", s.spec))
	return nil
}

// RunOnce 领取一批到期帖子；cron 与 dashboardctl posts publish-due 共用
func (s *PostScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.posts.PublishDue(ctx, s.batch)
	if err != nil {
		s.logger.Error("Failed to publish due posts", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Published due posts",
			zap.Int("count", n),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop 等待正在运行的任务结束
func (s *PostScheduler) Stop() {
	s.logger.Info("Stopping post scheduler...")
	<-s.cronEngine.Stop().Done()
	s.logger.Info("Post scheduler stopped")
}

// cronLogger 把 cron 内部日志转到 zap
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
