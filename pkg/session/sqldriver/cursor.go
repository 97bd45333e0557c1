package sqldriver

import (
	"database/sql"

	"github.com/ajitpratap0/quarry/pkg/session"
)

// cursor adapts *sql.Rows.
type cursor struct {
	rows    *sql.Rows
	columns []string
}

func openCursor(rows *sql.Rows) (session.Cursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &cursor{rows: rows, columns: columns}, nil
}

func (c *cursor) Columns() []string {
	return c.columns
}

func (c *cursor) Next() bool {
	return c.rows.Next()
}

func (c *cursor) Scan(dest ...any) error {
	return c.rows.Scan(dest...)
}

// Values scans the row generically. Text that drivers return as []byte
// (MySQL does) comes back as string.
func (c *cursor) Values() ([]any, error) {
	values := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

func (c *cursor) Err() error {
	return c.rows.Err()
}

func (c *cursor) Close() error {
	return c.rows.Close()
}
