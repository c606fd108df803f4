// Package log sets up structured logging for the CLI. Logs go to
// stderr so command output on stdout stays pipeable.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger. Console output by default; jsonOutput
// switches to raw JSON lines for machine consumption.
func New(w io.Writer, level string, jsonOutput bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
