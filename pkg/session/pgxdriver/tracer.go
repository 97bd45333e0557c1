package pgxdriver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/observability"
)

type spanKey struct{}

// queryTracer opens a span per statement and logs it at debug level.
type queryTracer struct {
	logger *zap.Logger
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := observability.StartSpan(ctx, "pgx", "query")
	span.SetAttribute("db.statement", data.SQL)
	span.SetAttribute("db.args", len(data.Args))
	return context.WithValue(ctx, spanKey{}, span)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(spanKey{}).(*observability.Span)
	if !ok {
		return
	}
	span.SetAttribute("db.rows_affected", data.CommandTag.RowsAffected())
	span.End(data.Err)

	if data.Err != nil {
		t.logger.Debug("statement failed", zap.String("tag", data.CommandTag.String()), zap.Error(data.Err))
		return
	}
	t.logger.Debug("statement done", zap.String("tag", data.CommandTag.String()))
}
