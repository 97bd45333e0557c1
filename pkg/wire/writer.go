package wire

import (
	"context"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// Column is one announced destination column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Settings maps column names to override wire types resolved at write time.
type Settings map[string]Type

// Resolve returns the override for name, or def when there is none.
func (s Settings) Resolve(name string, def Type) Type {
	if s == nil {
		return def
	}
	if t, ok := s[name]; ok {
		return t
	}
	return def
}

// ParseSettings builds Settings from column -> type name pairs (e.g. from config).
func ParseSettings(raw map[string]string) (Settings, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	s := make(Settings, len(raw))
	for col, name := range raw {
		t, err := Parse(name)
		if err != nil {
			return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeConfig, "invalid wire override").
				WithDetail("column", col)
		}
		s[col] = t
	}
	return s, nil
}

// RowWriter is the bulk-load protocol:
//
//	Begin(destination, columns)
//	{ StartRow, (WriteNull | Write) x len(columns) } x N
//	Complete
//
// Values must follow the announced column order. Write receives the
// canonical Go type of the wire type (see HostType) or a slice of it for
// arrays. Abort ends a transfer that will not complete; nothing written
// before it may be treated as committed.
type RowWriter interface {
	Begin(ctx context.Context, destination string, columns []Column) error
	StartRow() error
	WriteNull() error
	Write(value any, t Type) error
	// Complete finishes the transfer and returns the number of rows the
	// destination accepted.
	Complete() (int64, error)
	Abort(cause error) error
}
