package keyrecovery

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/keyrecovery/monitoring"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/keyrecovery/recoverydb"
	"github.com/lightningnetwork/keyrecovery/socrec"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
)

// A compile time check to ensure the prometheus collectors can be handed to
// both subsystems.
var (
	_ recovery.MetricsRecorder = (*monitoring.Metrics)(nil)
	_ socrec.MetricsRecorder   = (*monitoring.Metrics)(nil)
)

// Dependencies are the services an Engine talks to.
type Dependencies struct {
	// RecoveryClient is the server's Delay & Notify surface.
	RecoveryClient recovery.RecoveryClient

	// Relationships is the server's social recovery surface.
	Relationships socrec.RelationshipsService

	// KeyRing holds this device's keys.
	KeyRing keychain.SecretKeyRing

	// Clock is used for expiry checks. Optional.
	Clock clock.Clock
}

// OpenBackend opens the bolt database described by cfg.
func OpenBackend(cfg *Config) (kvdb.Backend, error) {
	return kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
		DBPath:            cfg.DataDir,
		DBFileName:        DefaultDBFilename,
		NoFreelistSync:    cfg.DB.NoFreelistSync,
		AutoCompact:       cfg.DB.AutoCompact,
		AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
		DBTimeout:         cfg.DB.Timeout,
	})
}

// Engine assembles the recovery subsystems over one database.
type Engine struct {
	started sync.Once
	stopped sync.Once

	backend kvdb.Backend

	// DB persists local recovery progress and the server record cache.
	DB *recoverydb.DB

	// Recovery reconciles Delay & Notify recoveries.
	Recovery *recovery.Manager

	// SocRec runs the social recovery protocol.
	SocRec *socrec.Engine

	// Syncer keeps server records fresh.
	Syncer *Syncer

	// Registry holds the engine's metrics.
	Registry *prometheus.Registry

	exporter *monitoring.Exporter
}

// NewEngine creates an engine over backend. The engine takes ownership of
// the backend and closes it on Stop.
func NewEngine(cfg *Config, backend kvdb.Backend,
	deps Dependencies) (*Engine, error) {

	if deps.RecoveryClient == nil || deps.Relationships == nil ||
		deps.KeyRing == nil {

		return nil, errors.New("recovery client, relationships " +
			"service and key ring are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}

	registry := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	db, err := recoverydb.New(backend)
	if err != nil {
		return nil, err
	}

	manager := recovery.NewManager(recovery.Config{
		Store:   db,
		Metrics: metrics,
	})

	store, err := socrec.NewStore(backend)
	if err != nil {
		return nil, fmt.Errorf("unable to open social recovery store: "+
			"%w", err)
	}

	socEngine, err := socrec.NewEngine(socrec.Config{
		Service:       deps.Relationships,
		KeyRing:       deps.KeyRing,
		Store:         store,
		Clock:         deps.Clock,
		Metrics:       metrics,
		CodeBitLength: cfg.SocRec.CodeBitLength,
	})
	if err != nil {
		return nil, err
	}

	syncer := NewSyncer(SyncerConfig{
		Client:   deps.RecoveryClient,
		Manager:  manager,
		Accounts: db.Accounts,
		Ticker:   ticker.New(cfg.Sync.Interval),

		RequestLimit: cfg.Sync.RequestLimit,
	})

	return &Engine{
		backend:  backend,
		DB:       db,
		Recovery: manager,
		SocRec:   socEngine,
		Syncer:   syncer,
		Registry: registry,
		exporter: monitoring.NewExporter(*cfg.Prometheus, registry),
	}, nil
}

// Start starts every subsystem.
func (e *Engine) Start() error {
	var startErr error
	e.started.Do(func() {
		log.Info("Recovery engine starting")

		if err := e.Recovery.Start(); err != nil {
			startErr = err
			return
		}
		if err := e.Syncer.Start(); err != nil {
			startErr = err
			return
		}
		startErr = e.exporter.Start()
	})

	return startErr
}

// Stop stops every subsystem and closes the database.
func (e *Engine) Stop() error {
	var stopErr error
	e.stopped.Do(func() {
		log.Info("Recovery engine shutting down...")
		defer log.Debug("Recovery engine shutdown complete")

		var errs []error
		errs = append(errs, e.exporter.Stop())
		errs = append(errs, e.Syncer.Stop())
		errs = append(errs, e.Recovery.Stop())
		e.SocRec.Stop()
		errs = append(errs, e.backend.Close())

		stopErr = errors.Join(errs...)
	})

	return stopErr
}
