package wire

import "reflect"

// Kind is how a classified value is written.
type Kind uint8

const (
	// KindDirect writes the value unconditionally
	KindDirect Kind = iota
	// KindNullable is a pointer: nil writes the null marker
	KindNullable
	// KindEnum is a named type converted to its underlying representation
	KindEnum
	// KindNullableEnum is a pointer to a named type
	KindNullableEnum
	// KindArray is a slice or fixed array of a representable element
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindNullable:
		return "nullable"
	case KindEnum:
		return "enum"
	case KindNullableEnum:
		return "nullable_enum"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Shape is the classification of one host type.
type Shape struct {
	Kind Kind
	Type Type
	// Convert is the Go type the value (or array element) is converted to
	// before it reaches the writer; nil when it is already canonical.
	Convert reflect.Type
}

// Nullable reports whether values of this shape can be null
func (s Shape) Nullable() bool {
	return s.Kind == KindNullable || s.Kind == KindNullableEnum || s.Kind == KindArray
}

// Classify decides whether t is representable and how. Exact host types are
// checked first, so time.Duration and uuid.UUID never fall through to the
// named-integer or array rules.
func Classify(t reflect.Type) (Shape, bool) {
	if wt, ok := scalar(t); ok {
		return Shape{Kind: KindDirect, Type: wt, Convert: convertTo(t, wt)}, true
	}
	if base, wt, ok := EnumBase(t); ok {
		return Shape{Kind: KindEnum, Type: wt, Convert: enumTarget(base, wt)}, true
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if wt, ok := scalar(elem); ok {
			return Shape{Kind: KindNullable, Type: wt, Convert: convertTo(elem, wt)}, true
		}
		if base, wt, ok := EnumBase(elem); ok {
			return Shape{Kind: KindNullableEnum, Type: wt, Convert: enumTarget(base, wt)}, true
		}
	case reflect.Slice, reflect.Array:
		elem := t.Elem()
		if wt, ok := scalar(elem); ok {
			return Shape{Kind: KindArray, Type: ArrayOf(wt), Convert: convertTo(elem, wt)}, true
		}
		if _, wt, ok := EnumBase(elem); ok {
			return Shape{Kind: KindArray, Type: ArrayOf(wt), Convert: HostType(wt)}, true
		}
	}
	return Shape{}, false
}

func scalar(t reflect.Type) (Type, bool) {
	wt, ok := hostTypes[t]
	return wt, ok
}

func convertTo(from reflect.Type, wt Type) reflect.Type {
	to := HostType(wt)
	if from == to {
		return nil
	}
	return to
}

// enumTarget is always non-nil: a named value has to lose its name even when
// its base type is already canonical.
func enumTarget(base reflect.Type, wt Type) reflect.Type {
	if to := convertTo(base, wt); to != nil {
		return to
	}
	return base
}
