package marshal

import (
	"reflect"

	"github.com/ajitpratap0/quarry/pkg/wire"
)

// emitFunc writes one field value. t is the resolved wire type: the column's
// own type, or an override.
type emitFunc func(w wire.RowWriter, v reflect.Value, t wire.Type) error

func newEmitter(shape wire.Shape, field reflect.Type) emitFunc {
	switch shape.Kind {
	case wire.KindDirect, wire.KindEnum:
		return scalarEmitter(shape.Convert)
	case wire.KindNullable, wire.KindNullableEnum:
		inner := scalarEmitter(shape.Convert)
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			if v.IsNil() {
				return w.WriteNull()
			}
			return inner(w, v.Elem(), t)
		}
	case wire.KindArray:
		return arrayEmitter(shape, field)
	}
	return nil
}

func scalarEmitter(convert reflect.Type) emitFunc {
	if convert == nil {
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			return w.Write(v.Interface(), t)
		}
	}
	return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
		return w.Write(v.Convert(convert).Interface(), t)
	}
}

// arrayEmitter always hands the writer an unnamed slice of the canonical
// element type. Fixed arrays are resliced in place when addressable.
func arrayEmitter(shape wire.Shape, field reflect.Type) emitFunc {
	elem := wire.HostType(shape.Type)
	target := reflect.SliceOf(elem)
	isSlice := field.Kind() == reflect.Slice

	switch {
	case isSlice && field == target:
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			if v.IsNil() {
				return w.WriteNull()
			}
			return w.Write(v.Interface(), t)
		}
	case isSlice && shape.Convert == nil:
		// named slice type over a canonical element
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			if v.IsNil() {
				return w.WriteNull()
			}
			return w.Write(v.Convert(target).Interface(), t)
		}
	case !isSlice && shape.Convert == nil && field.Elem() == elem:
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			if v.CanAddr() {
				return w.Write(v.Slice(0, v.Len()).Interface(), t)
			}
			return w.Write(copySlice(v, target, nil).Interface(), t)
		}
	default:
		convert := shape.Convert
		if convert == nil {
			convert = elem
		}
		return func(w wire.RowWriter, v reflect.Value, t wire.Type) error {
			if isSlice && v.IsNil() {
				return w.WriteNull()
			}
			return w.Write(copySlice(v, target, convert).Interface(), t)
		}
	}
}

func copySlice(v reflect.Value, target, elem reflect.Type) reflect.Value {
	n := v.Len()
	out := reflect.MakeSlice(target, n, n)
	for i := range n {
		item := v.Index(i)
		if elem != nil {
			item = item.Convert(elem)
		}
		out.Index(i).Set(item)
	}
	return out
}
