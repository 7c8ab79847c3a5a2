package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBSpanConfig describes a database call
type DBSpanConfig struct {
	System    string // postgresql, redis
	Operation string // SELECT, INSERT, EVAL ...
	Table     string
}

// StartDBSpan starts a client span for a store call
func StartDBSpan(ctx context.Context, cfg DBSpanConfig) (context.Context, trace.Span) {
	system := cfg.System
	if system == "" {
		system = "postgresql"
	}
	return GetTracer(instrumentationName).Start(ctx, "db."+cfg.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", cfg.Operation),
			attribute.String("db.sql.table", cfg.Table),
		),
	)
}

// EndDBSpan records the outcome of a store call on span
func EndDBSpan(span trace.Span, err error, rowsAffected int64) {
	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
