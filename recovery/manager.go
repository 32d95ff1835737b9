package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/logutil"
	"github.com/lightningnetwork/keyrecovery/multimutex"
	"github.com/lightningnetwork/keyrecovery/subscribe"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrManagerShuttingDown is returned when the manager is used after Stop.
var ErrManagerShuttingDown = errors.New("recovery manager shutting down")

// Config holds the dependencies of a Manager.
type Config struct {
	// Store persists local progress and the server record cache.
	Store Store

	// Metrics receives reconciled states. Optional.
	Metrics MetricsRecorder
}

// accountUpdates fans reconciled states of one account out to subscribers.
type accountUpdates struct {
	// mu orders publications with new subscriptions so a subscriber never
	// sees an older state after its initial one.
	mu     sync.Mutex
	server *subscribe.Server[fn.Result[Recovery]]
}

// Manager owns recovery state for every account on the device. Writes to one
// account are serialized through the account's recovery lock and each write
// republishes the reconciled state to the account's subscribers.
type Manager struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	recoveryLock *multimutex.Mutex[f8e.AccountID]

	mu       sync.Mutex
	accounts map[f8e.AccountID]*accountUpdates
}

// NewManager creates a new recovery manager.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}

	return &Manager{
		cfg:          cfg,
		recoveryLock: multimutex.NewMutex[f8e.AccountID](),
		accounts:     make(map[f8e.AccountID]*accountUpdates),
	}
}

// Start marks the manager ready.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Recovery manager starting")

	return nil
}

// Stop shuts down every subscription server.
func (m *Manager) Stop() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Recovery manager shutting down...")
	defer log.Debug("Recovery manager shutdown complete")

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, updates := range m.accounts {
		if err := updates.server.Stop(); err != nil {
			return err
		}
	}

	return nil
}

// updates returns the subscription server of an account, starting one on
// first use.
func (m *Manager) updates(accountID f8e.AccountID) (*accountUpdates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped.Load() {
		return nil, ErrManagerShuttingDown
	}

	if updates, ok := m.accounts[accountID]; ok {
		return updates, nil
	}

	server := subscribe.NewServer[fn.Result[Recovery]]()
	if err := server.Start(); err != nil {
		return nil, err
	}

	updates := &accountUpdates{server: server}
	m.accounts[accountID] = updates

	return updates, nil
}

// reconcile reads both inputs of the account and projects them.
func (m *Manager) reconcile(accountID f8e.AccountID) (Recovery, error) {
	local, err := m.cfg.Store.LocalProgress(accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to read local progress: %w", err)
	}

	server, err := m.cfg.Store.ServerRecovery(accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to read server recovery: %w",
			err)
	}

	return Reconcile(local, server), nil
}

func (m *Manager) reconcileResult(
	accountID f8e.AccountID) fn.Result[Recovery] {

	recovery, err := m.reconcile(accountID)
	if err != nil {
		return fn.Err[Recovery](err)
	}

	return fn.Ok(recovery)
}

// ActiveRecovery returns the account's current reconciled state. Loading is
// returned until the manager is started.
func (m *Manager) ActiveRecovery(accountID f8e.AccountID) (Recovery, error) {
	if !m.started.Load() {
		return Loading{}, nil
	}

	return m.reconcile(accountID)
}

// SubscribeActiveRecovery returns a client that first receives the current
// state and then every state recomputed after a write to the account.
func (m *Manager) SubscribeActiveRecovery(accountID f8e.AccountID) (
	*subscribe.Client[fn.Result[Recovery]], error) {

	updates, err := m.updates(accountID)
	if err != nil {
		return nil, err
	}

	updates.mu.Lock()
	defer updates.mu.Unlock()

	return updates.server.Subscribe(m.reconcileResult(accountID))
}

// publish recomputes the account's state and sends it to subscribers.
func (m *Manager) publish(accountID f8e.AccountID) {
	updates, err := m.updates(accountID)
	if err != nil {
		return
	}

	updates.mu.Lock()
	defer updates.mu.Unlock()

	result := m.reconcileResult(accountID)
	result.WhenOk(func(r Recovery) {
		log.Debugf("Account %v reconciled to %v", accountID, r)
		m.cfg.Metrics.ObserveRecovery(r.String())
	})

	if err := updates.server.SendUpdate(result); err != nil {
		log.Debugf("Unable to publish recovery of %v: %v", accountID,
			err)
	}
}

// WithRecoveryLock runs f holding the account's recovery lock. The lock is not
// reentrant: f must use the LockedAccount it is handed and never call the
// locking Manager methods for the same account.
func (m *Manager) WithRecoveryLock(ctx context.Context,
	accountID f8e.AccountID, f func(acct *LockedAccount) error) error {

	if m.stopped.Load() {
		return ErrManagerShuttingDown
	}

	m.recoveryLock.Lock(accountID)
	defer m.recoveryLock.Unlock(accountID)

	return f(&LockedAccount{
		mgr:       m,
		accountID: accountID,
		logCtx: btclog.WithCtx(
			ctx, logutil.LogAccount(accountID.String()),
		),
	})
}

// SetLocalRecoveryProgress records that the account reached a phase.
func (m *Manager) SetLocalRecoveryProgress(ctx context.Context,
	accountID f8e.AccountID, progress Progress) error {

	return m.WithRecoveryLock(ctx, accountID, func(acct *LockedAccount) error {
		return acct.SetLocalRecoveryProgress(progress)
	})
}

// SetActiveServerRecovery replaces the cached server record. None records
// that the server has no active recovery.
func (m *Manager) SetActiveServerRecovery(ctx context.Context,
	accountID f8e.AccountID, record fn.Option[ServerRecovery]) error {

	return m.WithRecoveryLock(ctx, accountID, func(acct *LockedAccount) error {
		return acct.SetActiveServerRecovery(record)
	})
}

// Clear wipes the local attempt and the server record cache.
func (m *Manager) Clear(ctx context.Context, accountID f8e.AccountID) error {
	return m.WithRecoveryLock(ctx, accountID, func(acct *LockedAccount) error {
		return acct.Clear()
	})
}

// LockedAccount gives access to one account while its recovery lock is held.
type LockedAccount struct {
	mgr       *Manager
	accountID f8e.AccountID
	logCtx    context.Context
}

// AccountID returns the locked account.
func (a *LockedAccount) AccountID() f8e.AccountID {
	return a.accountID
}

// Recovery returns the account's reconciled state.
func (a *LockedAccount) Recovery() (Recovery, error) {
	return a.mgr.reconcile(a.accountID)
}

// SetLocalRecoveryProgress records that the account reached a phase.
func (a *LockedAccount) SetLocalRecoveryProgress(progress Progress) error {
	attempt, err := a.mgr.cfg.Store.SetLocalProgress(a.accountID, progress)
	if err != nil {
		return err
	}

	log.InfoS(a.logCtx, "Recovery progress recorded",
		"phase", attempt.Phase,
		"lost_factor", attempt.LostFactor())

	a.mgr.publish(a.accountID)

	return nil
}

// SetActiveServerRecovery replaces the cached server record.
func (a *LockedAccount) SetActiveServerRecovery(
	record fn.Option[ServerRecovery]) error {

	invalid := fn.MapOptionZ(record, func(r ServerRecovery) error {
		return r.Validate()
	})
	if invalid != nil {
		log.WarnS(a.logCtx, "Ignoring server recovery", invalid)
		return invalid
	}

	err := a.mgr.cfg.Store.SetServerRecovery(a.accountID, record)
	if err != nil {
		return err
	}

	log.Tracef("Server recovery of %v updated: %v", a.accountID,
		logutil.SpewLogClosure(record))

	a.mgr.publish(a.accountID)

	return nil
}

// Clear wipes the local attempt and the server record cache.
func (a *LockedAccount) Clear() error {
	if err := a.mgr.cfg.Store.Clear(a.accountID); err != nil {
		return err
	}

	log.InfoS(a.logCtx, "Recovery state cleared")

	a.mgr.publish(a.accountID)

	return nil
}
