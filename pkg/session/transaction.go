package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// TxState is the lifecycle of a Transaction.
type TxState int32

const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is the manager's single open transaction. Operations
// acquired while it is open run inside it.
type Transaction struct {
	m     *Manager
	tx    Tx
	iso   IsolationLevel
	state TxState // guarded by m.mu
}

// Isolation returns the level fixed at Begin
func (t *Transaction) Isolation() IsolationLevel {
	return t.iso
}

// State returns the transaction's lifecycle state
func (t *Transaction) State() TxState {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.state
}

// Commit commits this transaction through its manager
func (t *Transaction) Commit(ctx context.Context, opts ...EndOption) error {
	return t.m.end(ctx, t, true, opts)
}

// Rollback rolls back this transaction through its manager
func (t *Transaction) Rollback(ctx context.Context, opts ...EndOption) error {
	return t.m.end(ctx, t, false, opts)
}

func (t *Transaction) finish(s TxState) {
	t.state = s
}

// EndOption adjusts Commit and Rollback.
type EndOption func(*endOptions)

type endOptions struct {
	keepOpen bool
}

// KeepOpen keeps the physical connection open after the transaction ends
func KeepOpen() EndOption {
	return func(o *endOptions) {
		o.keepOpen = true
	}
}

// Begin opens the connection if needed and starts a transaction. A
// Default isolation level uses the manager's configured level.
func (m *Manager) Begin(ctx context.Context, iso IsolationLevel) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx != nil {
		return nil, quarryerrors.New(quarryerrors.ErrorTypeAlreadyInTransaction, "transaction already open").
			WithDetail("isolation", m.tx.iso.String())
	}
	if err := m.ensureOpenLocked(ctx); err != nil {
		return nil, err
	}
	if len(m.outstanding) > 0 && !m.driver.Capabilities().MultipleActiveCursors {
		return nil, m.busy("begin")
	}
	if iso == IsolationDefault {
		iso = m.opts.Isolation
	}

	tx, err := m.conn.Begin(ctx, iso)
	if err != nil {
		return nil, quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, "failed to begin transaction").
			WithDetail("isolation", iso.String())
	}

	m.tx = &Transaction{m: m, tx: tx, iso: iso, state: TxOpen}
	metrics.ConnectionEvent(m.opts.Name, "begin")
	m.logger.Info("transaction started", zap.Stringer("isolation", iso))
	return m.tx, nil
}

// Commit commits the open transaction. The connection is closed afterwards
// unless KeepOpen is given or operations are still outstanding, in which
// case the last release closes it.
func (m *Manager) Commit(ctx context.Context, opts ...EndOption) error {
	return m.end(ctx, nil, true, opts)
}

// Rollback rolls back the open transaction, closing like Commit.
func (m *Manager) Rollback(ctx context.Context, opts ...EndOption) error {
	return m.end(ctx, nil, false, opts)
}

func (m *Manager) end(ctx context.Context, want *Transaction, commit bool, opts []EndOption) error {
	o := endOptions{keepOpen: m.opts.KeepOpenAfterCommit}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil || (want != nil && m.tx != want) {
		return quarryerrors.New(quarryerrors.ErrorTypeNoTransaction, "no transaction open")
	}

	tx := m.tx
	m.tx = nil

	var err error
	event := "commit"
	if commit {
		// A failed COMMIT leaves nothing applied.
		state := TxCommitted
		if err = tx.tx.Commit(ctx); err != nil {
			state = TxRolledBack
		}
		tx.finish(state)
	} else {
		event = "rollback"
		err = tx.tx.Rollback(ctx)
		tx.finish(TxRolledBack)
	}
	metrics.ConnectionEvent(m.opts.Name, event)

	if err != nil {
		m.logger.Error("transaction end failed", zap.String("action", event), zap.Error(err))
		err = quarryerrors.Wrap(err, quarryerrors.ErrorTypeQuery, event+" failed")
	} else {
		m.logger.Info("transaction ended", zap.String("action", event))
	}

	if !o.keepOpen && len(m.outstanding) == 0 && m.state == StateOpen {
		if closeErr := m.closeLocked(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
