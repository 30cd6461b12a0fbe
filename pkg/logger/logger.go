package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"baydigital/pkg/trace"
)

var Log *zap.Logger

// NewLogger 创建 production logger；LOG_LEVEL=debug 时打开 debug 日志
func NewLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl := getLevel(); lvl != nil {
		cfg.Level = zap.NewAtomicLevelAt(*lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}

func getLevel() *zapcore.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return nil
	}
	return &lvl
}
