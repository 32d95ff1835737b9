package keyrecovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxConcurrentSyncs bounds the number of in-flight record fetches.
const maxConcurrentSyncs = 4

// SyncerConfig holds the dependencies of a Syncer.
type SyncerConfig struct {
	// Client fetches the server's active recovery.
	Client recovery.RecoveryClient

	// Manager receives the fetched records.
	Manager *recovery.Manager

	// Accounts returns the stored accounts to keep in sync. Optional.
	Accounts func() ([]f8e.AccountID, error)

	// Ticker paces the polling.
	Ticker ticker.Ticker

	// RequestLimit caps the number of record fetches per second across
	// all accounts. Zero means unlimited.
	RequestLimit float64
}

// Syncer keeps the cached server recovery record of every account fresh by
// polling the server.
type Syncer struct {
	cfg SyncerConfig

	started sync.Once
	stopped sync.Once

	limiter *rate.Limiter

	mu      sync.Mutex
	tracked map[f8e.AccountID]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestLimit), 1)
	}

	return &Syncer{
		cfg:     cfg,
		limiter: limiter,
		tracked: make(map[f8e.AccountID]struct{}),
	}
}

// Track adds an account to every future sync, even when nothing is stored
// for it yet. This is how a device learns that someone else started a
// recovery.
func (s *Syncer) Track(accountID f8e.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracked[accountID] = struct{}{}
}

// accounts returns the stored accounts followed by the tracked ones.
func (s *Syncer) accounts() ([]f8e.AccountID, error) {
	var accounts []f8e.AccountID
	if s.cfg.Accounts != nil {
		stored, err := s.cfg.Accounts()
		if err != nil {
			return nil, err
		}
		accounts = stored
	}

	seen := make(map[f8e.AccountID]struct{}, len(accounts))
	for _, id := range accounts {
		seen[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.tracked {
		if _, ok := seen[id]; !ok {
			accounts = append(accounts, id)
		}
	}

	return accounts, nil
}

// Start begins polling.
func (s *Syncer) Start() error {
	s.started.Do(func() {
		log.Info("Server recovery syncer starting")

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.cfg.Ticker.Resume()

		s.wg.Add(1)
		go s.syncLoop(ctx)
	})

	return nil
}

// Stop halts polling and waits for an in-flight sync to finish.
func (s *Syncer) Stop() error {
	s.stopped.Do(func() {
		log.Info("Server recovery syncer shutting down...")
		defer log.Debug("Server recovery syncer shutdown complete")

		s.cfg.Ticker.Stop()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})

	return nil
}

func (s *Syncer) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if err := s.SyncOnce(ctx); err != nil {
				log.Warnf("Unable to sync server recovery: %v",
					err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// SyncOnce fetches the active recovery of every account and stores it. One
// account failing does not stop the others, the first error is returned.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	accounts, err := s.accounts()
	if err != nil {
		return fmt.Errorf("unable to list accounts: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentSyncs)

	for _, accountID := range accounts {
		g.Go(func() error {
			return s.syncAccount(ctx, accountID)
		})
	}

	return g.Wait()
}

// syncAccount fetches and stores the record of one account while holding its
// recovery lock, so a concurrent cancel or clear can't be overwritten by a
// record fetched before it.
func (s *Syncer) syncAccount(ctx context.Context,
	accountID f8e.AccountID) error {

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	return s.cfg.Manager.WithRecoveryLock(ctx, accountID,
		func(acct *recovery.LockedAccount) error {
			record, err := s.cfg.Client.GetActiveRecovery(
				ctx, accountID,
			)
			if err != nil {
				if f8e.IsRetryable(err) {
					log.Debugf("Transient error fetching "+
						"recovery of %v: %v", accountID,
						err)
				}

				return fmt.Errorf("unable to fetch recovery "+
					"of %v: %w", accountID, err)
			}

			return acct.SetActiveServerRecovery(record)
		},
	)
}
