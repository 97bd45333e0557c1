// Package wire defines the fixed set of wire types accepted by the binary
// bulk-load protocol, the host-type table that maps Go types onto them, and
// the RowWriter contract every bulk destination implements.
//
// The table in this file is the only place that decides which Go types are
// representable; pkg/marshal classifies struct fields against it.
package wire

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// Type is a wire type. Scalar types occupy the low byte; arrays set arrayBit.
type Type uint16

const (
	Invalid Type = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
	UUID
	Text
	DateTime
	Duration
	lastScalar
)

const arrayBit Type = 1 << 8

var typeNames = [...]string{
	Invalid:  "invalid",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Float32:  "float32",
	Float64:  "float64",
	Bool:     "bool",
	UUID:     "uuid",
	Text:     "text",
	DateTime: "datetime",
	Duration: "duration",
}

// ArrayOf returns the one-dimensional array type of a scalar element.
// Arrays of arrays are not representable and return Invalid.
func ArrayOf(elem Type) Type {
	if !elem.Valid() || elem.IsArray() {
		return Invalid
	}
	return elem | arrayBit
}

// IsArray reports whether t is an array type
func (t Type) IsArray() bool {
	return t&arrayBit != 0
}

// Elem returns the element type of an array, or t itself for scalars
func (t Type) Elem() Type {
	return t &^ arrayBit
}

// Valid reports whether t is a scalar or array type from the table
func (t Type) Valid() bool {
	e := t.Elem()
	return e > Invalid && e < lastScalar && t&^(arrayBit|0xff) == 0
}

// String returns the canonical name, e.g. "int32" or "int32[]"
func (t Type) String() string {
	if !t.Valid() {
		return typeNames[Invalid]
	}
	name := typeNames[t.Elem()]
	if t.IsArray() {
		return name + "[]"
	}
	return name
}

// Parse is the inverse of String.
func Parse(name string) (Type, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	array := strings.HasSuffix(name, "[]")
	base := strings.TrimSuffix(name, "[]")

	for t := Int8; t < lastScalar; t++ {
		if typeNames[t] == base {
			if array {
				return ArrayOf(t), nil
			}
			return t, nil
		}
	}
	return Invalid, quarryerrors.Newf(quarryerrors.ErrorTypeValidation, "unknown wire type %q", name)
}

// hostTypes is the fixed host-type -> wire-type table. Keys are exact types:
// named types (enums) are resolved through their underlying kind instead.
var hostTypes = map[reflect.Type]Type{
	reflect.TypeFor[int8]():          Int8,
	reflect.TypeFor[int16]():         Int16,
	reflect.TypeFor[int32]():         Int32,
	reflect.TypeFor[int64]():         Int64,
	reflect.TypeFor[int]():           Int64,
	reflect.TypeFor[uint8]():         Uint8,
	reflect.TypeFor[uint16]():        Uint16,
	reflect.TypeFor[uint32]():        Uint32,
	reflect.TypeFor[uint64]():        Uint64,
	reflect.TypeFor[uint]():          Uint64,
	reflect.TypeFor[float32]():       Float32,
	reflect.TypeFor[float64]():       Float64,
	reflect.TypeFor[bool]():          Bool,
	reflect.TypeFor[uuid.UUID]():     UUID,
	reflect.TypeFor[string]():        Text,
	reflect.TypeFor[time.Time]():     DateTime,
	reflect.TypeFor[time.Duration](): Duration,
}

// canonical is the Go type a RowWriter receives for each scalar wire type.
var canonical = map[Type]reflect.Type{
	Int8:     reflect.TypeFor[int8](),
	Int16:    reflect.TypeFor[int16](),
	Int32:    reflect.TypeFor[int32](),
	Int64:    reflect.TypeFor[int64](),
	Uint8:    reflect.TypeFor[uint8](),
	Uint16:   reflect.TypeFor[uint16](),
	Uint32:   reflect.TypeFor[uint32](),
	Uint64:   reflect.TypeFor[uint64](),
	Float32:  reflect.TypeFor[float32](),
	Float64:  reflect.TypeFor[float64](),
	Bool:     reflect.TypeFor[bool](),
	UUID:     reflect.TypeFor[uuid.UUID](),
	Text:     reflect.TypeFor[string](),
	DateTime: reflect.TypeFor[time.Time](),
	Duration: reflect.TypeFor[time.Duration](),
}

// kindBase maps the underlying kind of a named type to its representable base type.
var kindBase = map[reflect.Kind]reflect.Type{
	reflect.Int8:    reflect.TypeFor[int8](),
	reflect.Int16:   reflect.TypeFor[int16](),
	reflect.Int32:   reflect.TypeFor[int32](),
	reflect.Int64:   reflect.TypeFor[int64](),
	reflect.Int:     reflect.TypeFor[int](),
	reflect.Uint8:   reflect.TypeFor[uint8](),
	reflect.Uint16:  reflect.TypeFor[uint16](),
	reflect.Uint32:  reflect.TypeFor[uint32](),
	reflect.Uint64:  reflect.TypeFor[uint64](),
	reflect.Uint:    reflect.TypeFor[uint](),
	reflect.Float32: reflect.TypeFor[float32](),
	reflect.Float64: reflect.TypeFor[float64](),
	reflect.Bool:    reflect.TypeFor[bool](),
	reflect.String:  reflect.TypeFor[string](),
}

// ForHostType returns the wire type for an exactly representable Go type.
func ForHostType(t reflect.Type) (Type, bool) {
	wt, ok := hostTypes[t]
	return wt, ok
}

// HostType returns the canonical Go type a writer receives for a scalar wire type.
func HostType(t Type) reflect.Type {
	return canonical[t.Elem()]
}

// EnumBase resolves a named type (e.g. `type Status int16`) whose underlying
// kind is representable. It returns the base type to convert to and its wire type.
func EnumBase(t reflect.Type) (reflect.Type, Type, bool) {
	if t.Name() == "" || t.PkgPath() == "" {
		return nil, Invalid, false
	}
	if _, exact := hostTypes[t]; exact {
		return nil, Invalid, false
	}
	base, ok := kindBase[t.Kind()]
	if !ok {
		return nil, Invalid, false
	}
	return base, hostTypes[base], true
}
