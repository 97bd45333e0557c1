package query

import (
	"reflect"
	"strings"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/marshal"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// Scalar maps a single-column row to its value.
func Scalar[T any]() Mapper[T] {
	return func(row Row) (T, error) {
		var v T
		if n := len(row.Columns()); n != 1 {
			return v, quarryerrors.Newf(quarryerrors.ErrorTypeRowMapping, "scalar mapper needs one column, row has %d", n)
		}
		err := row.Scan(&v)
		return v, err
	}
}

// Map maps a row to column name -> value.
func Map() Mapper[map[string]any] {
	return func(row Row) (map[string]any, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		cols := row.Columns()
		out := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(values) {
				out[c] = values[i]
			}
		}
		return out, nil
	}
}

// Struct maps columns onto the fields of T by column name, using the same
// naming rules as bulk transfers (`db` tag, else snake_case). Names match
// case-insensitively. Columns with no matching field are discarded.
func Struct[T any]() Mapper[T] {
	return func(row Row) (T, error) {
		var v T
		rv := reflect.ValueOf(&v).Elem()
		if rv.Kind() != reflect.Struct {
			return v, quarryerrors.Newf(quarryerrors.ErrorTypeRowMapping, "struct mapper needs a struct type, got %s", rv.Type())
		}

		plan := scanPlanFor(rv.Type(), row.Columns())
		dest := make([]any, len(plan))
		for i, index := range plan {
			if index == nil {
				dest[i] = new(any)
				continue
			}
			dest[i] = rv.FieldByIndex(index).Addr().Interface()
		}
		if err := row.Scan(dest...); err != nil {
			return v, err
		}
		return v, nil
	}
}

type scanKey struct {
	typ     reflect.Type
	columns string
}

// field index paths per column, nil for discarded columns
var scanPlans sync.Map

func scanPlanFor(t reflect.Type, columns []string) [][]int {
	key := scanKey{typ: t, columns: strings.Join(columns, "\x00")}
	if cached, ok := scanPlans.Load(key); ok {
		return cached.([][]int)
	}

	byName := make(map[string][]int)
	for _, f := range marshal.Fields(t) {
		lower := strings.ToLower(f.Name)
		if _, dup := byName[lower]; !dup {
			byName[lower] = f.Index
		}
	}

	plan := make([][]int, len(columns))
	for i, c := range columns {
		plan[i] = byName[strings.ToLower(c)]
	}

	actual, _ := scanPlans.LoadOrStore(key, plan)
	return actual.([][]int)
}
