package marshal

import (
	"reflect"
	"slices"
	"strings"

	stringpool "github.com/ajitpratap0/quarry/pkg/strings"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// TagName is the struct tag that overrides a column name. `db:"-"` skips the field.
const TagName = "db"

// Field is one exported struct field resolved to a column name.
type Field struct {
	// Name is the column name
	Name string
	// GoName is the dotted Go field path, e.g. "Audit.CreatedAt" for embedded fields
	GoName string
	Index  []int
	Type   reflect.Type
}

// Fields lists the exported fields of t (or *t) in declaration order with
// anonymous embedded structs flattened in place. When two fields resolve to
// the same column name the first one wins. Non-struct types have no fields.
func Fields(t reflect.Type) []Field {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var out []Field
	seen := make(map[string]struct{})
	collect(t, nil, "", &out, seen)
	return out
}

func collect(t reflect.Type, parent []int, prefix string, out *[]Field, seen map[string]struct{}) {
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(sf.Tag.Get(TagName), ",")
		if name == "-" {
			continue
		}

		index := append(slices.Clone(parent), i)
		goName := prefix + sf.Name

		if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
			if _, representable := wire.Classify(sf.Type); !representable {
				collect(sf.Type, index, goName+".", out, seen)
				continue
			}
		}

		if name == "" {
			name = stringpool.ToSnakeCase(sf.Name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		*out = append(*out, Field{
			Name:   name,
			GoName: goName,
			Index:  index,
			Type:   sf.Type,
		})
	}
}
