package marshal

import (
	"reflect"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Mapping sends one plan column to a destination column. Source matches
// either the column name or the Go field name. An empty Destination keeps
// the source column name.
type Mapping struct {
	Source      string
	Destination string
}

// Projection is a subset, reordering or renaming of a plan's columns.
type Projection[T any] struct {
	plan *Plan[T]
	cols columns
}

// Project resolves mappings against the plan. No mappings selects every
// column unchanged.
func (p *Plan[T]) Project(mappings ...Mapping) (*Projection[T], error) {
	if len(mappings) == 0 {
		return &Projection[T]{plan: p, cols: p.cols}, nil
	}

	cols := make(columns, 0, len(mappings))
	used := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		col, ok := p.lookup(m.Source)
		if !ok {
			return nil, quarryerrors.New(quarryerrors.ErrorTypeValidation, "unknown source column").
				WithDetail("column", m.Source).
				WithDetail("type", p.typ.String())
		}
		if m.Destination != "" {
			col.Name = m.Destination
		}
		if _, dup := used[col.Name]; dup {
			return nil, quarryerrors.New(quarryerrors.ErrorTypeValidation, "duplicate destination column").
				WithDetail("column", col.Name)
		}
		used[col.Name] = struct{}{}
		cols = append(cols, col)
	}
	return &Projection[T]{plan: p, cols: cols}, nil
}

func (p *Plan[T]) lookup(source string) (ColumnPlan, bool) {
	for _, c := range p.cols {
		if c.Name == source || c.Field == source {
			return c, true
		}
	}
	return ColumnPlan{}, false
}

// Plan returns the plan the projection was built from
func (pr *Projection[T]) Plan() *Plan[T] {
	return pr.plan
}

// Len returns the number of projected columns
func (pr *Projection[T]) Len() int {
	return len(pr.cols)
}

// Names returns the destination column names in write order
func (pr *Projection[T]) Names() []string {
	return pr.cols.names()
}

// WireColumns returns the ordered announcement for RowWriter.Begin
func (pr *Projection[T]) WireColumns(settings wire.Settings) []wire.Column {
	return pr.cols.announce(settings)
}

// WriteRow writes the projected columns of rec
func (pr *Projection[T]) WriteRow(w wire.RowWriter, rec *T, settings wire.Settings) error {
	if rec == nil {
		return quarryerrors.New(quarryerrors.ErrorTypeValidation, "nil record")
	}
	return pr.cols.write(w, reflect.ValueOf(rec).Elem(), settings)
}
