// Package sqlcopy loads rows through database/sql with batched multi-row
// INSERT statements, for targets that have no binary bulk protocol.
//
// Scalars are bound as driver parameters. Arrays are bound as JSON text,
// durations as integer microseconds, and uint64 values above the int64
// range as decimal strings. Byte and duration array elements are JSON
// numbers, durations again in microseconds.
//
// A plan with no columns cannot be expressed as INSERT and is rejected by
// Begin.
package sqlcopy

import (
	"context"
	"database/sql"
	"math"
	"reflect"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	stringpool "github.com/ajitpratap0/quarry/pkg/strings"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Placeholder is a bind parameter style.
type Placeholder int

const (
	// Dollar is $1, $2 (PostgreSQL)
	Dollar Placeholder = iota
	// Question is ?, ? (MySQL, SQLite)
	Question
)

// ParsePlaceholder maps the config names "dollar" and "question".
func ParsePlaceholder(name string) (Placeholder, error) {
	switch name {
	case "", "dollar":
		return Dollar, nil
	case "question":
		return Question, nil
	}
	return Dollar, quarryerrors.Newf(quarryerrors.ErrorTypeConfig, "unknown placeholder style %q", name)
}

const (
	// DefaultBatchRows is used when Options.BatchRows is not positive
	DefaultBatchRows = 500
	// DefaultMaxParams stays under SQLite's bind limit
	DefaultMaxParams = 32766
)

// Execer is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Options configures a Writer.
type Options struct {
	BatchRows   int
	MaxParams   int
	Placeholder Placeholder
	// Quote is the identifier quote character; '"' when zero
	Quote  byte
	Logger *zap.Logger
}

// Writer is a wire.RowWriter that buffers rows and flushes them as INSERT
// statements. Batches already flushed when Abort is called are only undone
// if the caller runs the transfer inside a transaction.
type Writer struct {
	db     Execer
	opts   Options
	logger *zap.Logger

	ctx      context.Context
	prefix   string
	columns  []wire.Column
	batch    int
	args     []any
	rows     int
	col      int
	affected int64
	begun    bool
	ended    bool
}

// NewWriter creates a writer executing on db
func NewWriter(db Execer, opts Options) *Writer {
	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultBatchRows
	}
	if opts.MaxParams <= 0 {
		opts.MaxParams = DefaultMaxParams
	}
	if opts.Quote == 0 {
		opts.Quote = '"'
	}
	return &Writer{
		db:     db,
		opts:   opts,
		logger: logger.Component(opts.Logger, "sqlcopy"),
	}
}

func (w *Writer) Begin(ctx context.Context, destination string, columns []wire.Column) error {
	if w.begun {
		return quarryerrors.New(quarryerrors.ErrorTypeInternal, "insert writer already started")
	}
	if len(columns) == 0 {
		return quarryerrors.New(quarryerrors.ErrorTypeValidation, "insert needs at least one column").
			WithDetail("destination", destination)
	}
	w.begun = true
	w.ctx = ctx
	w.columns = columns
	w.col = len(columns)

	w.batch = w.opts.BatchRows
	if limit := w.opts.MaxParams / len(columns); limit < w.batch {
		w.batch = max(limit, 1)
	}
	w.args = make([]any, 0, w.batch*len(columns))

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	sb := stringpool.NewSQLBuilder(64 + 16*len(columns))
	defer sb.Close()
	w.prefix = sb.WriteQuery("INSERT INTO ").
		WriteQualifiedQuoted(destination, w.opts.Quote).
		WriteQuery(" (").
		WriteQuotedList(names, w.opts.Quote).
		WriteQuery(") VALUES ").
		String()
	return nil
}

func (w *Writer) framing(msg string) error {
	return quarryerrors.New(quarryerrors.ErrorTypeInternal, msg).
		WithDetail("row", w.rows).
		WithDetail("column", w.col)
}

func (w *Writer) StartRow() error {
	if !w.begun || w.ended {
		return w.framing("row outside of insert")
	}
	if w.col != len(w.columns) {
		return w.framing("previous row is incomplete")
	}
	if w.rows == w.batch {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.rows++
	w.col = 0
	return nil
}

func (w *Writer) add(v any) error {
	if w.col >= len(w.columns) {
		return w.framing("too many values for row")
	}
	w.args = append(w.args, v)
	w.col++
	return nil
}

func (w *Writer) WriteNull() error {
	return w.add(nil)
}

func (w *Writer) Write(value any, t wire.Type) error {
	if w.col >= len(w.columns) {
		return w.framing("too many values for row")
	}
	v, err := bindValue(value, t)
	if err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeData, "failed to bind value").
			WithDetail("column", w.columns[w.col].Name)
	}
	return w.add(v)
}

func bindValue(value any, t wire.Type) (any, error) {
	if t.IsArray() {
		b, err := json.Marshal(jsonArray(value))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v.Microseconds(), nil
	case uint64:
		if v > math.MaxInt64 {
			return strconv.FormatUint(v, 10), nil
		}
		return int64(v), nil
	}
	return value, nil
}

var durationType = reflect.TypeFor[time.Duration]()

// jsonArray rewrites arrays whose elements JSON would not render as
// numbers: byte elements (base64 otherwise) and durations (nanoseconds
// otherwise, microseconds for scalars).
func jsonArray(value any) any {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return value
	}
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return value
	}
	elem := rv.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem != durationType && elem.Kind() != reflect.Uint8 {
		return value
	}
	out := make([]any, rv.Len())
	for i := range out {
		e := rv.Index(i)
		if e.Kind() == reflect.Pointer {
			if e.IsNil() {
				continue
			}
			e = e.Elem()
		}
		if e.Type() == durationType {
			out[i] = time.Duration(e.Int()).Microseconds()
		} else {
			out[i] = e.Uint()
		}
	}
	return out
}

func (w *Writer) statement(rows int) string {
	cols := len(w.columns)
	sb := stringpool.NewSQLBuilder(len(w.prefix) + rows*cols*6)
	defer sb.Close()
	sb.WriteQuery(w.prefix)
	n := 0
	for r := range rows {
		if r > 0 {
			sb.WriteQuery(", ")
		}
		sb.WriteQuery("(")
		for c := range cols {
			if c > 0 {
				sb.WriteQuery(", ")
			}
			n++
			if w.opts.Placeholder == Question {
				sb.WriteQuery("?")
			} else {
				sb.WriteQuery("$").WriteInt(int64(n))
			}
		}
		sb.WriteQuery(")")
	}
	return sb.String()
}

func (w *Writer) flush() error {
	if w.rows == 0 {
		return nil
	}
	res, err := w.db.ExecContext(w.ctx, w.statement(w.rows), w.args...)
	if err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "insert batch failed").
			WithDetail("rows", w.rows)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = int64(w.rows)
	}
	w.affected += n
	w.logger.Debug("insert batch flushed", zap.Int("rows", w.rows))
	w.rows = 0
	w.args = w.args[:0]
	return nil
}

// Complete flushes the last batch and returns the total affected rows.
func (w *Writer) Complete() (int64, error) {
	if !w.begun || w.ended {
		return 0, w.framing("complete outside of insert")
	}
	if w.col != len(w.columns) {
		return 0, w.framing("last row is incomplete")
	}
	w.ended = true
	if err := w.flush(); err != nil {
		return 0, err
	}
	return w.affected, nil
}

// Abort drops buffered rows.
func (w *Writer) Abort(cause error) error {
	if w.ended {
		return nil
	}
	w.ended = true
	w.logger.Debug("insert aborted",
		zap.Error(cause),
		zap.Int("buffered_rows", w.rows),
		zap.Int64("flushed_rows", w.affected))
	w.rows = 0
	w.args = nil
	return nil
}
