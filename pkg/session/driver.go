package session

import (
	"context"
	"strings"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Capabilities describes what a driver's connections can do.
type Capabilities struct {
	// MultipleActiveCursors allows several open cursors on one connection.
	// Without it the manager allows one outstanding operation at a time.
	MultipleActiveCursors bool
	// BulkLoad reports that connections implement BulkConn
	BulkLoad bool
}

// Driver opens physical connections.
type Driver interface {
	Name() string
	Open(ctx context.Context) (Conn, error)
	Capabilities() Capabilities
}

// Queryer runs statements on a connection or inside a transaction.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (Cursor, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Conn is one physical connection.
type Conn interface {
	Queryer
	Begin(ctx context.Context, iso IsolationLevel) (Tx, error)
	Ping(ctx context.Context) error
	// IsClosed reports a connection the driver already knows is dead. It
	// must not block.
	IsClosed() bool
	Close(ctx context.Context) error
}

// Tx is a driver transaction.
type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Cursor is a forward-only result set. Next blocks on the network.
type Cursor interface {
	Columns() []string
	Next() bool
	Scan(dest ...any) error
	Values() ([]any, error)
	Err() error
	Close() error
}

// WriterOptions tunes a bulk writer.
type WriterOptions struct {
	// FlushBytes is the buffered size at which a streaming writer flushes
	FlushBytes int
	// BatchRows is the number of rows per statement for statement-based writers
	BatchRows int
}

// BulkConn is implemented by connections and transactions that can load rows
// through the binary bulk protocol.
type BulkConn interface {
	BulkWriter(opts WriterOptions) (wire.RowWriter, error)
}

// IsolationLevel is a transaction isolation level.
type IsolationLevel int

const (
	// IsolationDefault leaves the level to the server
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[IsolationLevel]string{
	IsolationDefault:         "default",
	IsolationReadUncommitted: "read_uncommitted",
	IsolationReadCommitted:   "read_committed",
	IsolationRepeatableRead:  "repeatable_read",
	IsolationSerializable:    "serializable",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseIsolation accepts the names returned by String, with spaces or
// underscores ("read committed" and "read_committed" are the same).
func ParseIsolation(name string) (IsolationLevel, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if normalized == "" {
		return IsolationDefault, nil
	}
	for level, n := range isolationNames {
		if n == normalized {
			return level, nil
		}
	}
	return IsolationDefault, quarryerrors.Newf(quarryerrors.ErrorTypeValidation, "unknown isolation level %q", name)
}
