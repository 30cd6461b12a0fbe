package otel

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// maxStatementLen db.statement 属性的最大长度
const maxStatementLen = 500

// DBSpan 为一条 SQL 创建 client span，span 名取语句的第一个关键字，例如 db.select
func DBSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	operation := DBOperation(query)
	statement := query
	if len(statement) > maxStatementLen {
		statement = statement[:maxStatementLen] + "..."
	}
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(operation),
			attribute.String("db.statement", statement),
		),
	)
}

// EndDBSpan 记录数据库错误并结束 span；ErrNoRows 不算失败
func EndDBSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// DBOperation 返回 SQL 的第一个关键字（小写），CTE 取 with
func DBOperation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "query"
	}
	return strings.ToLower(strings.TrimLeft(fields[0], "("))
}
