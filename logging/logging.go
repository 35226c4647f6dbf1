// Package logging provides the minimal leveled-logging surface the core
// calls into for conditions spec.md expects operators to monitor:
// asynchronous write-back failures, NoNodesAvailable, and ring topology
// changes. The core never requires a logger for correctness — Nop is the
// default everywhere.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Field is a structured key/value pair attached to a log line.
type Field struct {
	key   string
	value any
}

func Str(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }
func Err(err error) Field { return Field{"error", err} }

// Logger is the leveled logging surface used throughout the module. With
// returns a scoped child logger carrying the given fields on every
// subsequent call, in the sub-logger idiom common to structured Go loggers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// zlog adapts a zerolog.Logger to the Logger interface.
type zlog struct{ l zerolog.Logger }

// New builds a Logger that writes structured JSON lines to out
// (os.Stderr when out is nil).
func New(out *os.File) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &zlog{l: zerolog.New(out).With().Timestamp().Logger()}
}

func apply(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.key, f.value)
	}
	return e
}

func (z *zlog) Debug(msg string, fields ...Field) { apply(z.l.Debug(), fields).Msg(msg) }
func (z *zlog) Info(msg string, fields ...Field)  { apply(z.l.Info(), fields).Msg(msg) }
func (z *zlog) Warn(msg string, fields ...Field)  { apply(z.l.Warn(), fields).Msg(msg) }
func (z *zlog) Error(msg string, fields ...Field) { apply(z.l.Error(), fields).Msg(msg) }

func (z *zlog) With(fields ...Field) Logger {
	ctx := z.l.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.key, f.value)
	}
	return &zlog{l: ctx.Logger()}
}

type nop struct{}

// Nop returns a Logger that discards everything. It is the default used
// wherever a caller doesn't supply one.
func Nop() Logger { return nop{} }

func (nop) Debug(string, ...Field) {}
func (nop) Info(string, ...Field)  {}
func (nop) Warn(string, ...Field)  {}
func (nop) Error(string, ...Field) {}
func (nop) With(...Field) Logger   { return nop{} }
