// Package slog lets a session log through a log/slog handler instead of
// zerolog.
package slog

import (
	"context"
	"log/slog"

	"github.com/rewsgo/rews/pkg/logger"
)

// Logger forwards session diagnostics to a *slog.Logger.
type Logger struct {
	l *slog.Logger
}

var _ logger.Logger = (*Logger)(nil)

func New(h slog.Handler) *Logger {
	return &Logger{l: slog.New(h)}
}

// FromLogger wraps an existing *slog.Logger, keeping its attributes.
func FromLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{l: l}
}

// With returns a Logger that adds args to every record, e.g. the id of the
// session it belongs to.
func (lg *Logger) With(args ...any) *Logger {
	return &Logger{l: lg.l.With(args...)}
}

// Enabled reports whether records at level would be emitted.
func (lg *Logger) Enabled(level slog.Level) bool {
	return lg.l.Enabled(context.Background(), level)
}

func (lg *Logger) Error(msg string, args ...any) {
	lg.l.Error(msg, args...)
}

func (lg *Logger) Warn(msg string, args ...any) {
	lg.l.Warn(msg, args...)
}

func (lg *Logger) Info(msg string, args ...any) {
	lg.l.Info(msg, args...)
}

func (lg *Logger) Debug(msg string, args ...any) {
	lg.l.Debug(msg, args...)
}
