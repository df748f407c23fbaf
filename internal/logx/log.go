// Package logx holds the process logger. Everything goes to the diagnostic
// stream; stdout is reserved for protocol traffic.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log is the shared logger used throughout the project.
var Log = zerolog.Nop()

// Session identifies this bridge process in log output.
var Session = uuid.NewString()

// Configure sets the log level and output. The level string is tolerant of
// case and common synonyms.
func Configure(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	Log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("session", Session).
		Logger()
}

// ParseLevel converts a string to a zerolog level.
// Accepts: all, debug, info, warn, warning, error, none.
// Unknown values default to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	Configure(os.Getenv("LOG_LEVEL"), os.Stderr)
}
