// Package log builds the zerolog loggers used across the gateway.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is a zerolog.Logger with module helpers.
type Logger struct {
	zerolog.Logger
}

// New returns the process logger writing to stdout. pretty selects the console writer.
func New(level string, pretty bool) Logger {
	return NewWithWriter(os.Stdout, level, pretty)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, level string, pretty bool) Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	zlog := zerolog.New(w).Level(ParseLevel(level)).With().
		Timestamp().
		Caller().
		Stack().
		Logger()

	return Logger{zlog}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return Logger{zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, info when unknown.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	}

	return zerolog.InfoLevel
}

// Module returns a child logger tagged with the module name.
func (l Logger) Module(name string) Logger {
	return Logger{l.With().Str("module", name).Logger()}
}

// Session returns a child logger tagged with a session id.
func (l Logger) Session(id string) Logger {
	return Logger{l.With().Str("session_id", id).Logger()}
}
