package testutil

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/session"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// ErrConnClosed is returned by fake connections after Close or Kill.
var ErrConnClosed = errors.New("fake: connection closed")

// Result is a canned query result. The cursor fails with Err after
// FailAfter rows when FailAfter >= 0 and Err is set.
type Result struct {
	Columns   []string
	Rows      [][]any
	FailAfter int
	Err       error
}

// FakeDriver is an in-memory session.Driver. Query results are looked up
// by exact SQL text. It counts opens, closes and concurrently open cursors
// so tests can observe the connection lifecycle.
type FakeDriver struct {
	Caps session.Capabilities

	mu          sync.Mutex
	results     map[string]Result
	openErrs    []error
	opens       int
	closes      int
	cursors     int
	maxCursors  int
	statements  []string
	current     *FakeConn
	writer      *RecordingWriter
	beforeRow   func(ctx context.Context, sql string, row int)
	commitErr   error
}

// NewFakeDriver returns a driver with multiple active cursors and bulk load
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Caps:    session.Capabilities{MultipleActiveCursors: true, BulkLoad: true},
		results: make(map[string]Result),
		writer:  NewRecordingWriter(),
	}
}

// SetResult registers rows returned for sql
func (d *FakeDriver) SetResult(sql string, columns []string, rows ...[]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[sql] = Result{Columns: columns, Rows: rows, FailAfter: -1}
}

// SetFailingResult registers rows that end in err after failAfter rows
func (d *FakeDriver) SetFailingResult(sql string, columns []string, failAfter int, err error, rows ...[]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[sql] = Result{Columns: columns, Rows: rows, FailAfter: failAfter, Err: err}
}

// FailOpens makes the next len(errs) opens fail with the given errors in order
func (d *FakeDriver) FailOpens(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErrs = append(d.openErrs, errs...)
}

// FailCommit makes every later COMMIT fail with err
func (d *FakeDriver) FailCommit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitErr = err
}

// BeforeRow installs a hook called before each row is produced
func (d *FakeDriver) BeforeRow(fn func(ctx context.Context, sql string, row int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beforeRow = fn
}

// Writer returns the recorder handed out by BulkWriter
func (d *FakeDriver) Writer() *RecordingWriter {
	return d.writer
}

// Kill simulates the server dropping the current connection
func (d *FakeDriver) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.closed = true
	}
}

func (d *FakeDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *FakeDriver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// OpenCursors returns the number of cursors not yet closed
func (d *FakeDriver) OpenCursors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors
}

// MaxOpenCursors returns the highest number of simultaneously open cursors
func (d *FakeDriver) MaxOpenCursors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxCursors
}

// Statements returns every statement seen, including BEGIN/COMMIT/ROLLBACK
func (d *FakeDriver) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.statements...)
}

func (d *FakeDriver) Name() string {
	return "fake"
}

func (d *FakeDriver) Capabilities() session.Capabilities {
	return d.Caps
}

func (d *FakeDriver) Open(ctx context.Context) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		return nil, err
	}
	d.opens++
	d.current = &FakeConn{d: d}
	return d.current, nil
}

func (d *FakeDriver) record(stmt string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statements = append(d.statements, stmt)
}

// FakeConn is a connection of FakeDriver.
type FakeConn struct {
	d      *FakeDriver
	closed bool // guarded by d.mu
}

func (c *FakeConn) alive() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	return nil
}

func (c *FakeConn) Query(ctx context.Context, sql string, args ...any) (session.Cursor, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.d.query(ctx, sql)
}

func (c *FakeConn) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	if err := c.alive(); err != nil {
		return 0, err
	}
	c.d.record(sql)
	return 1, nil
}

func (c *FakeConn) Begin(_ context.Context, iso session.IsolationLevel) (session.Tx, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	c.d.record("BEGIN " + iso.String())
	return &FakeTx{c: c}, nil
}

func (c *FakeConn) Ping(context.Context) error {
	return c.alive()
}

func (c *FakeConn) IsClosed() bool {
	return c.alive() != nil
}

func (c *FakeConn) Close(context.Context) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if !c.closed {
		c.closed = true
	}
	c.d.closes++
	return nil
}

func (c *FakeConn) BulkWriter(session.WriterOptions) (wire.RowWriter, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.d.writer, nil
}

// FakeTx is a transaction of FakeConn.
type FakeTx struct {
	c *FakeConn
}

func (t *FakeTx) Query(ctx context.Context, sql string, args ...any) (session.Cursor, error) {
	return t.c.Query(ctx, sql, args...)
}

func (t *FakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return t.c.Exec(ctx, sql, args...)
}

func (t *FakeTx) Commit(context.Context) error {
	if err := t.c.alive(); err != nil {
		return err
	}
	t.c.d.mu.Lock()
	err := t.c.d.commitErr
	t.c.d.mu.Unlock()
	if err != nil {
		return err
	}
	t.c.d.record("COMMIT")
	return nil
}

func (t *FakeTx) Rollback(context.Context) error {
	if err := t.c.alive(); err != nil {
		return err
	}
	t.c.d.record("ROLLBACK")
	return nil
}

func (t *FakeTx) BulkWriter(opts session.WriterOptions) (wire.RowWriter, error) {
	return t.c.BulkWriter(opts)
}

func (d *FakeDriver) query(ctx context.Context, sql string) (session.Cursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.results[sql]
	if !ok {
		return nil, fmt.Errorf("fake: no result registered for %q", sql)
	}
	d.statements = append(d.statements, sql)
	d.cursors++
	if d.cursors > d.maxCursors {
		d.maxCursors = d.cursors
	}
	return &fakeCursor{d: d, ctx: ctx, sql: sql, res: res, pos: -1, hook: d.beforeRow}, nil
}

type fakeCursor struct {
	d      *FakeDriver
	ctx    context.Context
	sql    string
	res    Result
	pos    int
	hook   func(ctx context.Context, sql string, row int)
	err    error
	closed bool
}

func (c *fakeCursor) Columns() []string {
	return c.res.Columns
}

func (c *fakeCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	next := c.pos + 1
	if c.hook != nil {
		c.hook(c.ctx, c.sql, next)
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.res.Err != nil && c.res.FailAfter >= 0 && next >= c.res.FailAfter {
		c.err = c.res.Err
		return false
	}
	if next >= len(c.res.Rows) {
		return false
	}
	c.pos = next
	return true
}

func (c *fakeCursor) row() ([]any, error) {
	if c.pos < 0 || c.pos >= len(c.res.Rows) {
		return nil, errors.New("fake: no current row")
	}
	return c.res.Rows[c.pos], nil
}

func (c *fakeCursor) Values() ([]any, error) {
	row, err := c.row()
	if err != nil {
		return nil, err
	}
	return append([]any(nil), row...), nil
}

// Scan assigns by reflection, converting between convertible kinds.
func (c *fakeCursor) Scan(dest ...any) error {
	row, err := c.row()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("fake: scan into %d destinations, row has %d values", len(dest), len(row))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("fake: destination %d is not a pointer", i)
		}
		target = target.Elem()
		if row[i] == nil {
			target.SetZero()
			continue
		}
		v := reflect.ValueOf(row[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case target.Kind() == reflect.Pointer && v.Type().ConvertibleTo(target.Type().Elem()):
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v.Convert(target.Type().Elem()))
			target.Set(p)
		case v.Type().ConvertibleTo(target.Type()):
			target.Set(v.Convert(target.Type()))
		default:
			return fmt.Errorf("fake: cannot scan %T into %s", row[i], target.Type())
		}
	}
	return nil
}

func (c *fakeCursor) Err() error {
	return c.err
}

func (c *fakeCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.d.mu.Lock()
	c.d.cursors--
	c.d.mu.Unlock()
	return nil
}
