package tecs

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package-wide structured logger, used for transaction
// lifecycle diagnostics and the lock protocol's fatal-error path.
// Defaults to a console writer at info level, same shape as
// cuemby-warren/pkg/log's global Logger; embedders that want JSON or a
// different sink call SetLogger.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// SetLogger replaces the package-wide logger.
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// withECS returns a child logger tagged with this ECS instance's id, the
// way cuemby-warren's WithComponent/WithNodeID tag a child logger with
// one piece of context.
func (ecs *ECS) withECS() zerolog.Logger {
	return Logger.With().Str("ecs_id", ecs.ID().String()).Logger()
}

// FatalHandler is invoked whenever the lock protocol detects its own
// precondition was violated (SPEC_FULL §7): a bug in tecs's own
// transaction lifecycle, never a condition reachable through ordinary
// API use. The default logs at Panic level (which zerolog, like the
// standard library's log.Panic, follows with a panic) and is overridable
// by embedders — test harnesses in particular may want to assert on the
// violation instead of crashing the process.
var FatalHandler = func(err error) {
	Logger.Panic().Err(err).Msg("tecs: lock protocol violation")
}
