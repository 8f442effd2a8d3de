// Package logging builds this server's ambient zerolog logger: stderr
// output (stdout is reserved for the LSP wire protocol, so nothing may
// ever write there but the JSON-RPC framer), a configurable level, and
// fields identifying the process role so controller and worker logs
// can be told apart when a client aggregates them.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger writing to stderr at level, tagged with role
// ("controller", "eval", or "option").
func New(level, role string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stderr).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("role", role).
		Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
