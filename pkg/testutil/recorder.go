package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Op is one bulk-load protocol call.
type Op string

const (
	OpBegin    Op = "begin"
	OpStartRow Op = "start_row"
	OpNull     Op = "null"
	OpWrite    Op = "write"
	OpComplete Op = "complete"
	OpAbort    Op = "abort"
)

// Call is one recorded protocol call. Value and Type are set for OpWrite.
type Call struct {
	Op    Op
	Value any
	Type  wire.Type
}

// Cell is one written column value.
type Cell struct {
	Null  bool
	Value any
	Type  wire.Type
}

// RecordingWriter is a wire.RowWriter that records every call and enforces
// the framing: each row must receive exactly one value per announced column.
type RecordingWriter struct {
	// FailOn, when set, is consulted before each call is recorded; a
	// non-nil error is returned to the caller.
	FailOn func(call Call, row int) error

	mu          sync.Mutex
	calls       []Call
	destination string
	columns     []wire.Column
	rows        [][]Cell
	begun       bool
	completes   int
	abortCause  error
}

// NewRecordingWriter creates an empty recorder
func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{}
}

var errFraming = errors.New("framing violation")

func (r *RecordingWriter) record(call Call) error {
	r.calls = append(r.calls, call)
	if r.FailOn != nil {
		return r.FailOn(call, len(r.rows))
	}
	return nil
}

func (r *RecordingWriter) rowComplete() error {
	if n := len(r.rows); n > 0 && len(r.rows[n-1]) != len(r.columns) {
		return fmt.Errorf("%w: row %d has %d values for %d columns",
			errFraming, n, len(r.rows[n-1]), len(r.columns))
	}
	return nil
}

func (r *RecordingWriter) Begin(_ context.Context, destination string, columns []wire.Column) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.begun {
		return fmt.Errorf("%w: begin called twice", errFraming)
	}
	r.begun = true
	r.destination = destination
	r.columns = append([]wire.Column(nil), columns...)
	return r.record(Call{Op: OpBegin})
}

func (r *RecordingWriter) StartRow() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		return fmt.Errorf("%w: row before begin", errFraming)
	}
	if err := r.rowComplete(); err != nil {
		return err
	}
	if err := r.record(Call{Op: OpStartRow}); err != nil {
		return err
	}
	r.rows = append(r.rows, make([]Cell, 0, len(r.columns)))
	return nil
}

func (r *RecordingWriter) cell(c Cell) error {
	n := len(r.rows)
	if n == 0 {
		return fmt.Errorf("%w: value before start_row", errFraming)
	}
	if len(r.rows[n-1]) == len(r.columns) {
		return fmt.Errorf("%w: too many values in row %d", errFraming, n)
	}
	r.rows[n-1] = append(r.rows[n-1], c)
	return nil
}

func (r *RecordingWriter) WriteNull() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(Call{Op: OpNull}); err != nil {
		return err
	}
	return r.cell(Cell{Null: true})
}

func (r *RecordingWriter) Write(value any, t wire.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(Call{Op: OpWrite, Value: value, Type: t}); err != nil {
		return err
	}
	return r.cell(Cell{Value: value, Type: t})
}

func (r *RecordingWriter) Complete() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rowComplete(); err != nil {
		return 0, err
	}
	r.completes++
	if err := r.record(Call{Op: OpComplete}); err != nil {
		return 0, err
	}
	return int64(len(r.rows)), nil
}

func (r *RecordingWriter) Abort(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortCause = cause
	r.calls = append(r.calls, Call{Op: OpAbort})
	return nil
}

// Calls returns a copy of every recorded call
func (r *RecordingWriter) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls of op were recorded
func (r *RecordingWriter) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Destination returns the destination passed to Begin
func (r *RecordingWriter) Destination() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destination
}

// Columns returns the announced columns
func (r *RecordingWriter) Columns() []wire.Column {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Column(nil), r.columns...)
}

// Rows returns the written cells grouped by row
func (r *RecordingWriter) Rows() [][]Cell {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]Cell, len(r.rows))
	for i, row := range r.rows {
		out[i] = append([]Cell(nil), row...)
	}
	return out
}

// Completed returns how many times Complete was called
func (r *RecordingWriter) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes
}

// AbortCause returns the error passed to Abort, nil if never aborted
func (r *RecordingWriter) AbortCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortCause
}

// Aborted reports whether Abort was called
func (r *RecordingWriter) Aborted() bool {
	return r.Count(OpAbort) > 0
}

// Reset clears everything so the recorder can take another transfer
func (r *RecordingWriter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.destination = ""
	r.columns = nil
	r.rows = nil
	r.begun = false
	r.completes = 0
	r.abortCause = nil
}
