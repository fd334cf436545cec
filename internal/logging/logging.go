// Package logging owns process-wide logger state for loomctl.
//
// It wraps rs/zerolog behind a small printf-style surface so call sites
// stay terse: logs.Infof("loom.Thread.dispatch thread_id=%d task_id=%d", ...).
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level scale.
type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Config describes one logger configuration.
//
// Bypass skips the console formatter and emits raw JSON lines, which is
// what collectors want; the default favors humans at a terminal.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
	Output    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Timestamp: true,
		NoColor:   false,
		Bypass:    false,
	}
}

var base atomic.Pointer[zerolog.Logger]

func init() {
	Configure(DefaultConfig())
}

// Configure replaces the process logger. Later calls win; most programs
// call it once at startup (or let a profile in this package do it).
func Configure(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if !cfg.Bypass {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	ctx := zerolog.New(w).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	base.Store(&logger)
}

func current() *zerolog.Logger {
	return base.Load()
}

func Tracef(format string, args ...any) {
	current().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	current().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	current().Error().Msgf(format, args...)
}
