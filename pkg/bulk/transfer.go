// Package bulk streams records of one Go type into a wire.RowWriter.
//
// A Transfer compiles the record type's marshal plan once and can then run
// any number of times. Each run announces the destination and columns,
// writes one framed row per record, and completes exactly once. Any failure
// aborts the writer instead; nothing written by an aborted run should be
// treated as committed. Wrap a run in session.Manager.Begin/Commit when the
// destination must be all-or-nothing across several writers.
package bulk

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/marshal"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Options configures a Transfer.
type Options struct {
	// Mappings selects, orders and renames columns; empty sends every column
	Mappings []marshal.Mapping
	// Settings overrides wire types by destination column name
	Settings wire.Settings
	// Strict fails NewTransfer when the record type has unsupported fields
	Strict bool
	// Writer tunes the bulk writer Copy obtains from the session
	Writer session.WriterOptions
}

// OptionsFromConfig maps the bulk config section.
func OptionsFromConfig(cfg *config.BaseConfig) (Options, error) {
	settings, err := wire.ParseSettings(cfg.Bulk.Overrides)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Settings: settings,
		Strict:   cfg.Bulk.StrictMarshal,
		Writer: session.WriterOptions{
			FlushBytes: cfg.Bulk.FlushBytes,
			BatchRows:  cfg.Bulk.InsertBatchRows,
		},
	}, nil
}

// Result describes a finished run.
type Result struct {
	Destination string
	Columns     []wire.Column
	// Rows is the number of rows written to the writer
	Rows int64
	// Accepted is the row count the destination reported on completion
	Accepted int64
	Duration time.Duration
}

// Transfer writes records of type T.
type Transfer[T any] struct {
	proj    *marshal.Projection[T]
	opts    Options
	columns []wire.Column
	logger  *zap.Logger
}

// NewTransfer compiles T and resolves the column projection.
func NewTransfer[T any](opts Options, log *zap.Logger) (*Transfer[T], error) {
	mode := marshal.Lenient
	if opts.Strict {
		mode = marshal.Strict
	}
	plan, err := marshal.CompileMode[T](mode)
	if err != nil {
		return nil, err
	}
	proj, err := plan.Project(opts.Mappings...)
	if err != nil {
		return nil, err
	}

	l := logger.Component(log, "bulk")
	if omitted := plan.Omitted(); len(omitted) > 0 {
		l.Debug("fields without wire type omitted",
			zap.Stringer("type", plan.Type()),
			zap.Strings("fields", omitted))
	}

	return &Transfer[T]{
		proj:    proj,
		opts:    opts,
		columns: proj.WireColumns(opts.Settings),
		logger:  l,
	}, nil
}

// Columns returns the announced columns
func (t *Transfer[T]) Columns() []wire.Column {
	return append([]wire.Column(nil), t.columns...)
}

// Run writes every record of src to w under the destination name.
func (t *Transfer[T]) Run(ctx context.Context, w wire.RowWriter, destination string, src iter.Seq[T]) (Result, error) {
	return t.RunErr(ctx, w, destination, func(yield func(T, error) bool) {
		for rec := range src {
			if !yield(rec, nil) {
				return
			}
		}
	})
}

// RunErr is Run for sources that can fail. A source error aborts the run.
func (t *Transfer[T]) RunErr(ctx context.Context, w wire.RowWriter, destination string, src iter.Seq2[T, error]) (res Result, err error) {
	res = Result{Destination: destination, Columns: t.Columns()}
	log := logger.WithContext(ctx, t.logger).With(zap.String("destination", destination))

	ctx, span := observability.StartSpan(ctx, "bulk", "transfer")
	span.SetAttribute("destination", destination)
	span.SetAttribute("columns", len(t.columns))
	timer := metrics.NewTimer()
	defer func() {
		res.Duration = timer.Elapsed()
		status := "success"
		if err != nil {
			status = "aborted"
		}
		metrics.Transfer(destination, status, res.Rows, res.Duration)
		span.SetAttribute("rows", res.Rows)
		span.End(err)
	}()

	if err := ctx.Err(); err != nil {
		return res, quarryerrors.Wrap(err, quarryerrors.ErrorTypeCancelled, "transfer cancelled before start").
			WithDetail("destination", destination)
	}
	if err := w.Begin(ctx, destination, t.Columns()); err != nil {
		return res, t.abort(log, w, err, &res)
	}

	for rec, srcErr := range src {
		if srcErr != nil {
			return res, t.abort(log, w, srcErr, &res)
		}
		if err := ctx.Err(); err != nil {
			return res, t.abort(log, w, err, &res)
		}
		if err := w.StartRow(); err != nil {
			return res, t.abort(log, w, err, &res)
		}
		if err := t.proj.WriteRow(w, &rec, t.opts.Settings); err != nil {
			return res, t.abort(log, w, err, &res)
		}
		res.Rows++
	}

	accepted, err := w.Complete()
	if err != nil {
		return res, t.abort(log, w, err, &res)
	}
	res.Accepted = accepted

	log.Info("transfer complete",
		zap.Int64("rows", res.Rows),
		zap.Int64("accepted", accepted),
		zap.Duration("duration", timer.Elapsed()))
	return res, nil
}

func (t *Transfer[T]) abort(log *zap.Logger, w wire.RowWriter, cause error, res *Result) error {
	if abortErr := w.Abort(cause); abortErr != nil {
		log.Warn("writer abort failed", zap.Error(abortErr))
	}
	log.Warn("transfer aborted", zap.Int64("rows_written", res.Rows), zap.Error(cause))

	errType := quarryerrors.ErrorTypeTransferAborted
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		errType = quarryerrors.ErrorTypeCancelled
	}
	return quarryerrors.Wrap(cause, errType, "transfer aborted").
		WithDetail("destination", res.Destination).
		WithDetail("rows_written", res.Rows)
}

// Copy runs a transfer on a bulk writer from mgr. The writer holds a lease
// for the duration, so the connection stays open and inside any open
// transaction.
func Copy[T any](ctx context.Context, mgr *session.Manager, destination string, src iter.Seq[T], opts Options) (Result, error) {
	tr, err := NewTransfer[T](opts, mgr.Logger())
	if err != nil {
		return Result{Destination: destination}, err
	}

	lease, err := mgr.Acquire(ctx, "copy "+destination)
	if err != nil {
		return Result{Destination: destination}, err
	}
	defer lease.Release()

	w, err := lease.BulkWriter(opts.Writer)
	if err != nil {
		return Result{Destination: destination}, err
	}
	return tr.Run(ctx, w, destination, src)
}
