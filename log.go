package signalr

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the sink every log line from this package is written through.
// Callers supply their own via WithLogger; NewNopLogger is the default
// when none is given.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}

// nopLogger discards everything. It is the default so a Client never
// panics or writes to a global logger a caller didn't ask for.
type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{})          {}
func (nopLogger) Info(string, map[string]interface{})           {}
func (nopLogger) Warn(string, map[string]interface{})           {}
func (nopLogger) Error(string, error, map[string]interface{})   {}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

// zerologLogger adapts zerolog.Logger to the Logger interface. Use
// NewZerologLogger to build one and WithLogger to install it.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{log: l}
}

// NewDefaultLogger builds a console-writer zerolog logger at info level,
// matching the teacher's cmd/kaizoku/main.go startup logging shape.
func NewDefaultLogger() Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return &zerologLogger{log: l}
}

func applyFields(e *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

func (z *zerologLogger) Debug(msg string, fields map[string]interface{}) {
	applyFields(z.log.Debug(), fields).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields map[string]interface{}) {
	applyFields(z.log.Info(), fields).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields map[string]interface{}) {
	applyFields(z.log.Warn(), fields).Msg(msg)
}

func (z *zerologLogger) Error(msg string, err error, fields map[string]interface{}) {
	e := z.log.Error().Err(err)
	if cat := CategorizeError(err); cat != "" {
		e = e.Str("category", cat)
	}
	applyFields(e, fields).Msg(msg)
}
