package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
)

// NewDefaultHandler returns the handler every subsystem logger writes
// through. Lines go to the rotating log file and, unless disabled, to stdout.
func NewDefaultHandler(cfg *LogConfig,
	rotator *RotatingLogWriter) btclog.Handler {

	var w io.Writer = rotator
	if !cfg.NoConsole {
		w = io.MultiWriter(os.Stdout, rotator)
	}

	return btclog.NewDefaultHandler(w, cfg.HandlerOptions()...)
}
