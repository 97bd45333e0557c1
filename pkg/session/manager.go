// Package session manages one shared physical connection for a set of
// concurrently outstanding operations and at most one transaction.
//
// Every query cursor and bulk writer holds a Lease. The connection opens on
// demand, stays open while any lease or the transaction exists, and closes
// when the last lease is released outside a transaction. With a cooldown
// configured the manager refuses to (re)open until a window has passed
// since the first deferred attempt or the last disconnect.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// State is the lifecycle state of the physical connection.
type State int32

const (
	// StateClosed has no connection and has not seen a failure
	StateClosed State = iota
	// StateOpen has a live connection
	StateOpen
	// StateBroken has seen a disconnect or a failed open
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Handle identifies one outstanding operation
type Handle uint64

// Options configures a Manager.
type Options struct {
	// Name labels logs and metrics
	Name string
	// ReconnectCooldown is the fixed wait before a connection that is not
	// open is (re)opened. The first attempt with no recorded disconnect
	// starts the window. Zero opens immediately.
	ReconnectCooldown time.Duration
	// OpenImmediatelyAfterClose exempts the clean Closed state from the
	// cooldown, so only a Broken connection waits.
	OpenImmediatelyAfterClose bool
	// KeepOpenAfterCommit is the default for Commit and Rollback
	KeepOpenAfterCommit bool
	// ConnectTimeout bounds a physical open; zero means the caller's context only
	ConnectTimeout time.Duration
	// Isolation is used by Begin when IsolationDefault is requested
	Isolation IsolationLevel
	// Now replaces time.Now, for tests
	Now func() time.Time
}

// OptionsFromConfig maps the session and timeout config sections.
func OptionsFromConfig(cfg *config.BaseConfig) (Options, error) {
	iso, err := ParseIsolation(cfg.Session.Isolation)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Name:                cfg.Name,
		ReconnectCooldown:         cfg.Session.ReconnectCooldown,
		OpenImmediatelyAfterClose: cfg.Session.OpenImmediatelyAfterClose,
		KeepOpenAfterCommit:       cfg.Session.KeepOpenAfterCommit,
		ConnectTimeout:            cfg.Timeouts.Connect,
		Isolation:                 iso,
	}, nil
}

// Manager owns one physical connection. All state is guarded by mu,
// including while a physical open is in progress.
type Manager struct {
	driver Driver
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	conn           Conn
	tx             *Transaction
	outstanding    map[Handle]string
	nextHandle     uint64
	disconnectedAt time.Time
}

// NewManager creates a manager in the Closed state. Nothing is opened until
// the first operation.
func NewManager(driver Driver, opts Options, log *zap.Logger) *Manager {
	if opts.Name == "" {
		opts.Name = driver.Name()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		driver:      driver,
		opts:        opts,
		logger:      logger.Component(log, "session").With(zap.String("session", opts.Name)),
		now:         now,
		outstanding: make(map[Handle]string),
	}
}

// Name returns the manager's label
func (m *Manager) Name() string {
	return m.opts.Name
}

// Capabilities returns the driver's capabilities
func (m *Manager) Capabilities() Capabilities {
	return m.driver.Capabilities()
}

// Logger returns the manager's logger for components built on top of it
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InTransaction reports whether a transaction is open
func (m *Manager) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx != nil
}

// Outstanding returns the number of registered operations
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}

// EnsureOpen returns nil when a live connection is available, opening one
// if allowed. While the reconnect cooldown is running it returns
// ErrorTypeConnectionNotAvailable without touching the driver.
func (m *Manager) EnsureOpen(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureOpenLocked(ctx)
}

func (m *Manager) ensureOpenLocked(ctx context.Context) error {
	if m.state == StateOpen {
		if !m.conn.IsClosed() {
			return nil
		}
		m.logger.Warn("connection lost")
		m.breakLocked("lost")
	}

	if cooldown := m.opts.ReconnectCooldown; cooldown > 0 && m.coolingLocked() {
		now := m.now()
		if m.disconnectedAt.IsZero() {
			m.disconnectedAt = now
			return m.notAvailable(cooldown)
		}
		if elapsed := now.Sub(m.disconnectedAt); elapsed < cooldown {
			return m.notAvailable(cooldown - elapsed)
		}
	}

	m.disconnectedAt = time.Time{}
	m.discardLocked(ctx)

	openCtx := ctx
	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := m.driver.Open(openCtx)
	if err != nil {
		m.state = StateBroken
		m.disconnectedAt = m.now()
		metrics.ConnectionEvent(m.opts.Name, "open_failed")
		m.logger.Error("failed to open connection", zap.Error(err))
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeConnection, "failed to open connection").
			WithDetail("driver", m.driver.Name())
	}

	m.conn = conn
	m.state = StateOpen
	metrics.ConnectionEvent(m.opts.Name, "open")
	m.logger.Info("connection opened", zap.String("driver", m.driver.Name()))
	return nil
}

// coolingLocked reports whether the current state is subject to the
// reconnect cooldown.
func (m *Manager) coolingLocked() bool {
	if m.state == StateClosed && m.opts.OpenImmediatelyAfterClose {
		return false
	}
	return m.state != StateOpen
}

func (m *Manager) notAvailable(wait time.Duration) error {
	metrics.ConnectionEvent(m.opts.Name, "deferred")
	m.logger.Warn("reconnect deferred", zap.Duration("retry_in", wait))
	return quarryerrors.New(quarryerrors.ErrorTypeConnectionNotAvailable, "connection not available during reconnect cooldown").
		WithDetail("retry_in", wait.String())
}

// breakLocked records a disconnect. The dead connection is dropped without
// touching the network.
func (m *Manager) breakLocked(event string) {
	m.state = StateBroken
	m.disconnectedAt = m.now()
	if m.tx != nil {
		m.tx.finish(TxRolledBack)
		m.tx = nil
	}
	if m.conn != nil {
		_ = m.conn.Close(context.Background())
		m.conn = nil
	}
	metrics.ConnectionEvent(m.opts.Name, event)
}

// discardLocked rolls back any transaction and closes any connection before
// a fresh open. Errors are logged; the connection is being replaced anyway.
func (m *Manager) discardLocked(ctx context.Context) {
	if m.tx != nil {
		if err := m.tx.tx.Rollback(ctx); err != nil {
			m.logger.Debug("rollback before reopen failed", zap.Error(err))
		}
		m.tx.finish(TxRolledBack)
		m.tx = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(ctx); err != nil {
			m.logger.Debug("close before reopen failed", zap.Error(err))
		}
		m.conn = nil
	}
}

func (m *Manager) closeLocked(ctx context.Context) error {
	if m.conn == nil {
		m.state = StateClosed
		return nil
	}
	err := m.conn.Close(ctx)
	m.conn = nil
	m.state = StateClosed
	metrics.ConnectionEvent(m.opts.Name, "close")
	m.logger.Debug("connection closed")
	if err != nil {
		return quarryerrors.Wrap(err, quarryerrors.ErrorTypeConnection, "failed to close connection")
	}
	return nil
}

// Invalidate marks the connection dead, e.g. after the caller saw a network
// error. The connection and any transaction are dropped and reconnects wait
// for the cooldown. Outstanding leases stay registered until released.
func (m *Manager) Invalidate(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Warn("connection invalidated", zap.Error(cause))
	m.breakLocked("invalidated")
}

// Close rolls back any transaction and closes the connection. The manager
// can be used again afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.tx != nil {
		if err := m.tx.tx.Rollback(ctx); err != nil {
			errs = append(errs, quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "rollback on close failed"))
		}
		m.tx.finish(TxRolledBack)
		m.tx = nil
	}
	if err := m.closeLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	m.disconnectedAt = time.Time{}
	return errors.Join(errs...)
}

// Acquire registers an outstanding operation and returns a lease on the
// current queryer: the transaction when one is open, otherwise the
// connection. Without MultipleActiveCursors only one lease may exist.
func (m *Manager) Acquire(ctx context.Context, label string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeCancelled, "acquire cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureOpenLocked(ctx); err != nil {
		return nil, err
	}
	if len(m.outstanding) > 0 && !m.driver.Capabilities().MultipleActiveCursors {
		return nil, m.busy(label)
	}

	m.nextHandle++
	h := Handle(m.nextHandle)
	m.outstanding[h] = label
	metrics.SetOutstanding(m.opts.Name, len(m.outstanding))

	var q Queryer = m.conn
	if m.tx != nil {
		q = m.tx.tx
	}
	m.logger.Debug("operation registered",
		zap.Uint64("handle", uint64(h)),
		zap.String("operation", label),
		zap.Int("outstanding", len(m.outstanding)))

	return &Lease{m: m, handle: h, label: label, queryer: q}, nil
}

func (m *Manager) busy(label string) error {
	active := make([]string, 0, len(m.outstanding))
	for _, l := range m.outstanding {
		active = append(active, l)
	}
	return quarryerrors.New(quarryerrors.ErrorTypeCapability,
		"driver supports one active operation per connection").
		WithDetail("driver", m.driver.Name()).
		WithDetail("operation", label).
		WithDetail("active", active)
}

// release unregisters h. The last release outside a transaction closes the
// physical connection.
func (m *Manager) release(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	label, ok := m.outstanding[h]
	if !ok {
		return
	}
	delete(m.outstanding, h)
	metrics.SetOutstanding(m.opts.Name, len(m.outstanding))
	m.logger.Debug("operation released",
		zap.Uint64("handle", uint64(h)),
		zap.String("operation", label),
		zap.Int("outstanding", len(m.outstanding)))

	if len(m.outstanding) == 0 && m.tx == nil && m.state == StateOpen {
		if err := m.closeLocked(context.Background()); err != nil {
			m.logger.Warn("auto-close failed", zap.Error(err))
		}
	}
}
