// Package marshal compiles Go struct types into write plans for the binary
// bulk-load protocol.
//
// A plan is built once per type by reflecting over the type's exported
// fields, classifying each against the wire type table, and caching an
// ordered list of column writers. Writing a row then walks that list with no
// further type inspection.
//
//	type Event struct {
//	    ID       uuid.UUID
//	    Kind     EventKind  // type EventKind int16: written as int16
//	    Score    *float64   // nil writes null
//	    Tags     []string
//	    internal chan int   // unexported: ignored
//	}
//
//	plan := marshal.Compile[Event]()
//	err := plan.WriteRow(w, &event)
package marshal

import (
	"reflect"
	"slices"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	stringpool "github.com/ajitpratap0/quarry/pkg/strings"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Mode controls what happens to fields without a wire type.
type Mode int

const (
	// Lenient omits unsupported fields and records them in Plan.Omitted
	Lenient Mode = iota
	// Strict fails compilation when any exported field is unsupported
	Strict
)

// ColumnPlan describes how one field is written.
type ColumnPlan struct {
	Name     string
	Field    string
	Kind     wire.Kind
	Type     wire.Type
	Nullable bool

	index []int
	emit  emitFunc
}

// Column returns the announcement for this column with the override applied
func (c ColumnPlan) Column(settings wire.Settings) wire.Column {
	return wire.Column{
		Name:     c.Name,
		Type:     settings.Resolve(c.Name, c.Type),
		Nullable: c.Nullable,
	}
}

func (c *ColumnPlan) write(w wire.RowWriter, rec reflect.Value, settings wire.Settings) error {
	if err := c.emit(w, rec.FieldByIndex(c.index), settings.Resolve(c.Name, c.Type)); err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeData, "failed to write column").
			WithDetail("column", c.Name)
	}
	return nil
}

// columns is the shared ordered writer list. Announcement and writes both
// iterate the same slice, so their order cannot diverge.
type columns []ColumnPlan

func (cs columns) announce(settings wire.Settings) []wire.Column {
	out := make([]wire.Column, len(cs))
	for i := range cs {
		out[i] = cs[i].Column(settings)
	}
	return out
}

func (cs columns) names() []string {
	out := make([]string, len(cs))
	for i := range cs {
		out[i] = cs[i].Name
	}
	return out
}

func (cs columns) write(w wire.RowWriter, rec reflect.Value, settings wire.Settings) error {
	for i := range cs {
		if err := cs[i].write(w, rec, settings); err != nil {
			return err
		}
	}
	return nil
}

// Plan is the compiled, immutable write plan for T.
type Plan[T any] struct {
	typ     reflect.Type
	cols    columns
	omitted []string
}

var cache sync.Map // reflect.Type -> *Plan[T]

// Compile returns the cached plan for T, building it on first use. Concurrent
// first callers may each build a plan but all of them receive the one stored
// first.
func Compile[T any]() *Plan[T] {
	typ := reflect.TypeFor[T]()
	if cached, ok := cache.Load(typ); ok {
		return cached.(*Plan[T])
	}

	built := build[T](typ)
	actual, loaded := cache.LoadOrStore(typ, built)
	if !loaded {
		metrics.PlanCompiled()
	}
	return actual.(*Plan[T])
}

// CompileMode is Compile with an explicit omission mode. The cached plan is
// shared between modes; Strict only adds the check.
func CompileMode[T any](mode Mode) (*Plan[T], error) {
	plan := Compile[T]()
	if mode == Strict && len(plan.omitted) > 0 {
		return nil, quarryerrors.New(quarryerrors.ErrorTypeUnsupportedField,
			stringpool.Sprintf("%s has fields with no wire type", plan.typ)).
			WithDetail("fields", slices.Clone(plan.omitted))
	}
	return plan, nil
}

func build[T any](typ reflect.Type) *Plan[T] {
	plan := &Plan[T]{typ: typ}
	if typ.Kind() != reflect.Struct {
		return plan
	}

	for _, f := range Fields(typ) {
		shape, ok := wire.Classify(f.Type)
		if !ok {
			plan.omitted = append(plan.omitted, f.GoName)
			continue
		}
		plan.cols = append(plan.cols, ColumnPlan{
			Name:     f.Name,
			Field:    f.GoName,
			Kind:     shape.Kind,
			Type:     shape.Type,
			Nullable: shape.Nullable(),
			index:    f.Index,
			emit:     newEmitter(shape, f.Type),
		})
	}
	return plan
}

// Type returns the compiled Go type
func (p *Plan[T]) Type() reflect.Type {
	return p.typ
}

// Len returns the number of columns
func (p *Plan[T]) Len() int {
	return len(p.cols)
}

// Columns returns a copy of the column plans in write order
func (p *Plan[T]) Columns() []ColumnPlan {
	return slices.Clone(p.cols)
}

// Names returns the column names in write order
func (p *Plan[T]) Names() []string {
	return p.cols.names()
}

// Omitted returns the Go names of exported fields that had no wire type
func (p *Plan[T]) Omitted() []string {
	return slices.Clone(p.omitted)
}

// WireColumns returns the ordered announcement for RowWriter.Begin
func (p *Plan[T]) WireColumns(settings wire.Settings) []wire.Column {
	return p.cols.announce(settings)
}

// WriteRow writes every column of rec in plan order. The caller must have
// called StartRow.
func (p *Plan[T]) WriteRow(w wire.RowWriter, rec *T) error {
	return p.WriteRowWith(w, rec, nil)
}

// WriteRowWith is WriteRow with per-column wire type overrides. Columns
// without an override are written exactly as WriteRow writes them.
func (p *Plan[T]) WriteRowWith(w wire.RowWriter, rec *T, settings wire.Settings) error {
	if rec == nil {
		return quarryerrors.New(quarryerrors.ErrorTypeValidation, "nil record")
	}
	return p.cols.write(w, reflect.ValueOf(rec).Elem(), settings)
}
