// Package telemetry provides the structured logging and call/failure
// accounting every component logs through.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the narrow key-value logging interface components depend on:
// Info/Debug/Error/Warn with alternating key, value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)

	// With returns a Logger that always includes the given key-value
	// pairs.
	With(kv ...any) Logger
}

type zerologLogger struct {
	logger zerolog.Logger
}

// New builds a production Logger writing structured JSON to w.
func New(w io.Writer) Logger {
	return &zerologLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Default is a Logger writing to stderr, used where no explicit Logger is
// wired (CLI entrypoints before config is parsed).
var Default Logger = New(os.Stderr)

func fields(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || key == "" {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

func (l *zerologLogger) Debug(msg string, kv ...any) {
	fields(l.logger.Debug(), kv).Msg(msg)
}

func (l *zerologLogger) Info(msg string, kv ...any) {
	fields(l.logger.Info(), kv).Msg(msg)
}

func (l *zerologLogger) Warn(msg string, kv ...any) {
	fields(l.logger.Warn(), kv).Msg(msg)
}

func (l *zerologLogger) Error(msg string, err error, kv ...any) {
	fields(l.logger.Error().Err(err), kv).Msg(msg)
}

func (l *zerologLogger) With(kv ...any) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || key == "" {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zerologLogger{logger: ctx.Logger()}
}
