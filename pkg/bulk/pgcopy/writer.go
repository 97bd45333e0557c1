package pgcopy

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	stringpool "github.com/ajitpratap0/quarry/pkg/strings"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// DefaultFlushBytes is used when Options.FlushBytes is not positive.
const DefaultFlushBytes = 64 * 1024

// Copier runs a COPY FROM STDIN statement reading the data from r.
// *pgconn.PgConn implements it.
type Copier interface {
	CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
}

// Options configures a Writer.
type Options struct {
	FlushBytes int
	Logger     *zap.Logger
}

type copyResult struct {
	tag pgconn.CommandTag
	err error
}

// Writer is a wire.RowWriter that streams one COPY statement. Begin starts
// the statement in a goroutine fed through a pipe; the goroutine is joined
// by Complete or Abort. A Writer is single-use.
type Writer struct {
	copier Copier
	enc    encoder
	flush  int
	logger *zap.Logger

	columns []wire.Column
	col     int
	rows    int64
	pw      *io.PipeWriter
	done    chan copyResult
	ended   bool
}

// NewWriter creates a writer over copier. types is the connection's type
// map; a fresh pgtype.NewMap() is used when nil.
func NewWriter(copier Copier, types *pgtype.Map, opts Options) *Writer {
	if types == nil {
		types = pgtype.NewMap()
	}
	flush := opts.FlushBytes
	if flush <= 0 {
		flush = DefaultFlushBytes
	}
	return &Writer{
		copier: copier,
		enc:    encoder{types: types, buf: make([]byte, 0, flush+flush/4)},
		flush:  flush,
		logger: logger.Component(opts.Logger, "pgcopy"),
	}
}

// Statement builds COPY "schema"."table" ("a", "b") FROM STDIN BINARY
func Statement(destination string, columns []wire.Column) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	sb := stringpool.NewSQLBuilder(64 + 16*len(columns))
	defer sb.Close()
	sb.WriteQuery("COPY ").WriteQualifiedIdentifier(destination)
	if len(names) > 0 {
		sb.WriteQuery(" (").WriteIdentifierList(names).WriteQuery(")")
	}
	sb.WriteQuery(" FROM STDIN BINARY")
	return sb.String()
}

func (w *Writer) Begin(ctx context.Context, destination string, columns []wire.Column) error {
	if w.done != nil {
		return quarryerrors.New(quarryerrors.ErrorTypeInternal, "copy writer already started")
	}
	for _, c := range columns {
		if _, ok := OID(c.Type); !ok {
			return quarryerrors.New(quarryerrors.ErrorTypeValidation, "column has no PostgreSQL type").
				WithDetail("column", c.Name).
				WithDetail("wire_type", c.Type.String())
		}
	}
	w.columns = columns
	w.col = len(columns)

	sql := Statement(destination, columns)
	pr, pw := io.Pipe()
	w.pw = pw
	w.done = make(chan copyResult, 1)

	go func() {
		tag, err := w.copier.CopyFrom(ctx, pr, sql)
		// unblocks a writer still pushing frames after the server gave up
		_ = pr.CloseWithError(errOrClosed(err))
		w.done <- copyResult{tag: tag, err: err}
	}()

	w.enc.header()
	w.logger.Debug("copy started", zap.String("destination", destination), zap.Int("columns", len(columns)))
	return nil
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return io.ErrClosedPipe
}

func (w *Writer) framing(msg string) error {
	return quarryerrors.New(quarryerrors.ErrorTypeInternal, msg).
		WithDetail("row", w.rows).
		WithDetail("column", w.col)
}

func (w *Writer) StartRow() error {
	if w.done == nil || w.ended {
		return w.framing("row outside of copy")
	}
	if w.col != len(w.columns) {
		return w.framing("previous row is incomplete")
	}
	if len(w.enc.buf) >= w.flush {
		if err := w.send(); err != nil {
			return err
		}
	}
	w.enc.tuple(len(w.columns))
	w.col = 0
	w.rows++
	return nil
}

func (w *Writer) next() error {
	if w.col >= len(w.columns) {
		return w.framing("too many values for row")
	}
	w.col++
	return nil
}

func (w *Writer) WriteNull() error {
	if err := w.next(); err != nil {
		return err
	}
	w.enc.null()
	return nil
}

func (w *Writer) Write(value any, t wire.Type) error {
	if err := w.next(); err != nil {
		return err
	}
	if err := w.enc.value(value, t); err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeData, "failed to encode column").
			WithDetail("column", w.columns[w.col-1].Name)
	}
	return nil
}

func (w *Writer) send() error {
	if len(w.enc.buf) == 0 {
		return nil
	}
	if _, err := w.pw.Write(w.enc.buf); err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeConnection, "copy stream failed")
	}
	w.enc.buf = w.enc.buf[:0]
	return nil
}

// Complete writes the trailer, waits for the server and returns the row
// count it reported.
func (w *Writer) Complete() (int64, error) {
	if w.done == nil || w.ended {
		return 0, w.framing("complete outside of copy")
	}
	if w.col != len(w.columns) {
		return 0, w.framing("last row is incomplete")
	}
	w.ended = true

	w.enc.trailer()
	sendErr := w.send()
	_ = w.pw.Close()
	res := <-w.done

	if res.err != nil {
		return 0, quarryerrors.Wrap(res.err, quarryerrors.ErrorTypeQuery, "copy failed")
	}
	if sendErr != nil {
		return 0, sendErr
	}
	w.logger.Debug("copy complete", zap.Int64("rows", res.tag.RowsAffected()))
	return res.tag.RowsAffected(), nil
}

// Abort fails the COPY so the server discards every row sent so far.
func (w *Writer) Abort(cause error) error {
	if w.done == nil || w.ended {
		return nil
	}
	w.ended = true
	if cause == nil {
		cause = errors.New("copy aborted")
	}
	_ = w.pw.CloseWithError(cause)
	res := <-w.done
	w.logger.Debug("copy aborted", zap.Error(cause), zap.NamedError("server", res.err))
	return nil
}
