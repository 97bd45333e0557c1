package session

import (
	"context"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
	"github.com/ajitpratap0/quarry/pkg/wire"
)

// Lease is one registered outstanding operation. It must be released
// exactly once; extra Release calls are ignored.
type Lease struct {
	m       *Manager
	handle  Handle
	label   string
	queryer Queryer
	once    sync.Once
}

// Handle returns the lease's id in the outstanding set
func (l *Lease) Handle() Handle {
	return l.handle
}

// Label returns the operation label given to Acquire
func (l *Lease) Label() string {
	return l.label
}

// Queryer returns the transaction or connection captured at Acquire
func (l *Lease) Queryer() Queryer {
	return l.queryer
}

// Query opens a cursor
func (l *Lease) Query(ctx context.Context, sql string, args ...any) (Cursor, error) {
	cur, err := l.queryer.Query(ctx, sql, args...)
	if err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "query failed").
			WithDetail("operation", l.label)
	}
	return cur, nil
}

// Exec runs a statement and returns the affected row count
func (l *Lease) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	n, err := l.queryer.Exec(ctx, sql, args...)
	if err != nil {
		return 0, quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "exec failed").
			WithDetail("operation", l.label)
	}
	return n, nil
}

// BulkWriter returns a bulk-load writer on the leased queryer
func (l *Lease) BulkWriter(opts WriterOptions) (wire.RowWriter, error) {
	bc, ok := l.queryer.(BulkConn)
	if !ok {
		return nil, quarryerrors.New(quarryerrors.ErrorTypeCapability, "driver does not support bulk load").
			WithDetail("driver", l.m.driver.Name())
	}
	w, err := bc.BulkWriter(opts)
	if err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeConnection, "failed to create bulk writer")
	}
	return w, nil
}

// Release unregisters the operation
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.release(l.handle)
	})
}

// Exec acquires a short lease and runs one statement.
func (m *Manager) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	lease, err := m.Acquire(ctx, "exec")
	if err != nil {
		return 0, err
	}
	defer lease.Release()
	return lease.Exec(ctx, sql, args...)
}
