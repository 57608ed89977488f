// Package rtlog provides per-component structured logging via
// zerolog, in place of a hand-rolled log.Logger wrapper. Only
// cmd/raled uses it; the internal/* packages do no logging of their
// own. Grounded on the corpus's recurring zerolog
// choice (blastbao-leifdb, cuemby-warren, edirooss-zmux-server all
// depend on it independently).
package rtlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// New returns a logger tagged with the given component name (e.g.
// "rale", "dstore", "scheduler", "control").
func New(component string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetLevel parses a level name from configuration (raled_log_level)
// and applies it globally.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
