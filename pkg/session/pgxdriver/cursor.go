package pgxdriver

import (
	"github.com/jackc/pgx/v5"
)

// cursor adapts pgx.Rows. Rows are read from the socket as Next is called.
type cursor struct {
	rows    pgx.Rows
	columns []string
}

func newCursor(rows pgx.Rows) *cursor {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &cursor{rows: rows, columns: columns}
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

func (c *cursor) Values() ([]any, error) {
	return c.rows.Values()
}

func (c *cursor) Err() error {
	return c.rows.Err()
}

// Close releases the rows; pgx discards any unread ones.
func (c *cursor) Close() error {
	c.rows.Close()
	return nil
}
