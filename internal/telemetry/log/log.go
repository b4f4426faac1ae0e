// Package log is the structured logging facade shared by every component of
// the indexing core. It binds github.com/joeycumines/logiface to the
// zerolog backend, so call sites never import zerolog or logiface directly.
package log

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

type (
	// Logger is a bound logiface logger, ready for chained field calls, e.g.
	// log.Info().Str("split_id", id).Log("packaged split").
	Logger = *logiface.Logger[*izerolog.Event]
)

// Level re-exports logiface's level type, so callers configuring a Logger
// never need to import logiface directly.
type Level = logiface.Level

const (
	LevelTrace = logiface.LevelTrace
	LevelDebug = logiface.LevelDebug
	LevelInfo  = logiface.LevelInformational
	LevelWarn  = logiface.LevelWarning
	LevelError = logiface.LevelError
)

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level.
func New(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		izerolog.L.WithLevel(level),
	)
}

// NewDefault builds a Logger writing to os.Stderr at LevelInfo, for use by
// the CLI and by tests that don't care about log output.
func NewDefault() Logger {
	return New(os.Stderr, LevelInfo)
}

// Nop returns a Logger that discards everything, for tests exercising
// components that require a non-nil logger but assert nothing about it.
func Nop() Logger {
	return New(io.Discard, LevelError+1)
}

// For returns a child logger tagged with a component name; the CLI uses it
// to tag the indexing pipeline, supervisor, heartbeat and merge loop.
func For(l Logger, component string) Logger {
	return l.Clone().Str("component", component).Logger()
}
