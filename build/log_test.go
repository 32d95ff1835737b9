package build

import (
	"io"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func newTestManager() *SubLoggerManager {
	m := NewSubLoggerManager(btclog.NewDefaultHandler(io.Discard))
	m.GenSubLogger("RCVR", nil)
	m.GenSubLogger("SCRC", nil)

	return m
}

func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	require.Equal(t, []string{"RCVR", "SCRC"}, m.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("warn,SCRC=trace", m))

	loggers := m.SubLoggers()
	require.Equal(t, btclog.LevelWarn, loggers["RCVR"].Level())
	require.Equal(t, btclog.LevelTrace, loggers["SCRC"].Level())
}

func TestParseAndSetDebugLevelsInvalid(t *testing.T) {
	t.Parallel()

	for _, level := range []string{
		"loud",
		"info,RCVR",
		"info,RCVR=debug=trace",
		"info,MISSING=debug",
		"info,RCVR=loud",
	} {
		require.Error(
			t, ParseAndSetDebugLevels(level, newTestManager()),
			level,
		)
	}
}

func TestLogConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())

	cfg.Compressor = Zstd
	require.NoError(t, cfg.Validate())

	cfg.Compressor = "lz4"
	require.Error(t, cfg.Validate())

	cfg = DefaultLogConfig()
	cfg.CallSite = "everywhere"
	require.Error(t, cfg.Validate())
}
