package keyrecovery

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/build"
	"github.com/lightningnetwork/keyrecovery/monitoring"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/keyrecovery/recoverydb"
	"github.com/lightningnetwork/keyrecovery/socrec"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "KRCV"

// log is the root package logger. It is silent until SetupLoggers is called.
var log btclog.Logger = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables so every
// subsystem writes through root.
func SetupLoggers(root *build.SubLoggerManager) {
	log = root.GenSubLogger(Subsystem, nil)

	AddSubLogger(root, recovery.Subsystem, recovery.UseLogger)
	AddSubLogger(root, recoverydb.Subsystem, recoverydb.UseLogger)
	AddSubLogger(root, socrec.Subsystem, socrec.UseLogger)
	AddSubLogger(root, monitoring.Subsystem, monitoring.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := root.GenSubLogger(subsystem, nil)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// LogWriters is the output of NewLogWriters: the rotating file writer and the
// manager handing out subsystem loggers.
type LogWriters struct {
	Rotator *build.RotatingLogWriter
	Manager *build.SubLoggerManager
}

// NewLogWriters opens the rotating log file of cfg and wires every subsystem
// to it. The debug level of cfg is applied afterwards.
func NewLogWriters(cfg *Config) (*LogWriters, error) {
	rotator := build.NewRotatingLogWriter()
	if err := rotator.InitLogRotator(cfg.LogConfig, cfg.LogFile()); err != nil {
		return nil, err
	}

	manager := build.NewSubLoggerManager(
		build.NewDefaultHandler(cfg.LogConfig, rotator),
	)
	SetupLoggers(manager)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, manager)
	if err != nil {
		_ = rotator.Close()
		return nil, err
	}

	return &LogWriters{
		Rotator: rotator,
		Manager: manager,
	}, nil
}

// Close flushes and closes the log file.
func (w *LogWriters) Close() error {
	return w.Rotator.Close()
}
