package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"baydigital/internal/config"
	"baydigital/pkg/db"
	"baydigital/pkg/logger"
	"baydigital/pkg/mq"
)

// env 按需打开连接，命令结束时统一关闭
type env struct {
	cfg       *config.Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	publisher *mq.Publisher
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger.NewLogger()}, nil
}

func (e *env) db() (*pgxpool.Pool, error) {
	if e.pool != nil {
		return e.pool, nil
	}
	pool, err := db.NewConnection(e.cfg.DB, e.log)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	e.pool = pool
	return pool, nil
}

func (e *env) mq() (*mq.Publisher, error) {
	if e.publisher != nil {
		return e.publisher, nil
	}
	p, err := mq.NewPublisher(e.cfg.MQ.URL)
	if err != nil {
		return nil, fmt.Errorf("connect mq: %w", err)
	}
	e.publisher = p
	return p, nil
}

func (e *env) Close() {
	if e.publisher != nil {
		e.publisher.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.log.Sync()
}

// withEnv 运行 fn 并确保资源释放
func withEnv(ctx context.Context, fn func(ctx context.Context, e *env) error) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
