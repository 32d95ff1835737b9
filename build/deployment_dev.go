//go:build dev
// +build dev

package build

import "os"

// Deployment specifies a development build.
const Deployment = Development

// LogLevel is the level used by stdout-only sub loggers. It can be raised for
// a single test run by setting KEYRECOVERY_LOGLEVEL.
var LogLevel = func() string {
	if lvl := os.Getenv("KEYRECOVERY_LOGLEVEL"); lvl != "" {
		return lvl
	}

	return "debug"
}()
