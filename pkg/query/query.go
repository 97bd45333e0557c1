// Package query runs SQL through a session.Manager and streams the result
// as typed values.
//
// Every iteration is a fresh execution holding its own lease on the shared
// connection. The cursor and lease are released as soon as the iteration
// ends for any reason: exhaustion, Close, a mapper error, a driver error or
// context cancellation. Errors are reported after the release, so a caller
// that sees an error never holds the connection.
//
//	q := query.New(mgr, query.Struct[Order](), "SELECT id, total FROM orders WHERE total > $1", 100)
//	for order, err := range q.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
package query

import (
	"context"
	"errors"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/session"
)

// Row is the current cursor row handed to a Mapper.
type Row interface {
	Columns() []string
	Scan(dest ...any) error
	Values() ([]any, error)
}

// Mapper turns one row into a value.
type Mapper[T any] func(Row) (T, error)

// Query is a reusable statement bound to a manager.
type Query[T any] struct {
	mgr    *session.Manager
	mapper Mapper[T]
	sql    string
	args   []any
	label  string
	logger *zap.Logger
}

// New creates a query. Nothing runs until Iter, All or Collect.
func New[T any](mgr *session.Manager, mapper Mapper[T], sql string, args ...any) *Query[T] {
	return &Query[T]{
		mgr:    mgr,
		mapper: mapper,
		sql:    sql,
		args:   args,
		label:  "query",
		logger: logger.Component(mgr.Logger(), "query"),
	}
}

// WithLabel returns a copy whose operations are registered under label
func (q *Query[T]) WithLabel(label string) *Query[T] {
	c := *q
	c.label = label
	return &c
}

// SQL returns the statement text
func (q *Query[T]) SQL() string {
	return q.sql
}

// Iter executes the query and returns an iterator over its rows. The caller
// must drain or Close it.
func (q *Query[T]) Iter(ctx context.Context) (*Iterator[T], error) {
	lease, err := q.mgr.Acquire(ctx, q.label)
	if err != nil {
		return nil, err
	}

	spanCtx, span := observability.StartSpan(ctx, "query", "iterate")
	span.SetAttribute("operation", q.label)

	cur, err := lease.Query(spanCtx, q.sql, q.args...)
	if err != nil {
		lease.Release()
		metrics.QueryExecution("failure")
		span.End(err)
		return nil, err
	}

	log := logger.WithContext(ctx, q.logger).With(
		zap.Uint64("handle", uint64(lease.Handle())),
		zap.String("operation", q.label))
	log.Debug("cursor opened")

	return &Iterator[T]{
		ctx:    ctx,
		lease:  lease,
		cur:    cur,
		mapper: q.mapper,
		span:   span,
		logger: log,
	}, nil
}

// All returns a single-use sequence; each range executes the query again.
// Breaking out of the loop releases the cursor.
func (q *Query[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it, err := q.Iter(ctx)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		defer it.Close()

		for it.Next() {
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Collect drains one execution into a slice.
func (q *Query[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range q.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Iterator is a single-consumer cursor over one execution.
type Iterator[T any] struct {
	ctx    context.Context
	lease  *session.Lease
	cur    session.Cursor
	mapper Mapper[T]
	span   *observability.Span
	logger *zap.Logger

	value T
	err   error
	rows  int64
	done  bool
	once  sync.Once
}

// Next advances to the next row. It returns false when the rows are
// exhausted or an error occurred; check Err afterwards.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(quarryerrors.Wrap(err, quarryerrors.ErrorTypeCancelled, "query cancelled"), "cancelled")
		return false
	}

	if !it.cur.Next() {
		if err := it.cur.Err(); err != nil {
			if ctxErr := it.ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
				it.fail(quarryerrors.Wrap(err, quarryerrors.ErrorTypeCancelled, "query cancelled"), "cancelled")
			} else {
				it.fail(quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "cursor failed"), "failure")
			}
			return false
		}
		it.release(nil, "success")
		return false
	}

	v, err := it.mapper(it.cur)
	if err != nil {
		it.fail(quarryerrors.Wrap(err, quarryerrors.ErrorTypeRowMapping, "row mapping failed").
			WithDetail("row", it.rows), "mapping_failed")
		return false
	}
	it.value = v
	it.rows++
	return true
}

// Value returns the current row's value
func (it *Iterator[T]) Value() T {
	return it.value
}

// Err returns the error that ended the iteration, if any
func (it *Iterator[T]) Err() error {
	return it.err
}

// Rows returns the number of rows produced so far
func (it *Iterator[T]) Rows() int64 {
	return it.rows
}

// Close releases the cursor and lease early. It is safe to call repeatedly
// and after exhaustion.
func (it *Iterator[T]) Close() error {
	it.release(nil, "closed")
	return nil
}

// fail releases first, then records err for Err.
func (it *Iterator[T]) fail(err error, status string) {
	it.release(err, status)
	it.err = err
}

func (it *Iterator[T]) release(err error, status string) {
	it.once.Do(func() {
		it.done = true
		var zero T
		it.value = zero

		if closeErr := it.cur.Close(); closeErr != nil {
			it.logger.Debug("cursor close failed", zap.Error(closeErr))
		}
		it.lease.Release()

		metrics.QueryExecution(status)
		it.span.SetAttribute("rows", it.rows)
		it.span.SetAttribute("status", status)
		it.span.End(err)
		it.logger.Debug("cursor released", zap.String("status", status), zap.Int64("rows", it.rows))
	})
}
