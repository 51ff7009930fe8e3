package types

import "log/slog"

// SlogLogger adapts *slog.Logger to the Logger interface.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (a *SlogLogger) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *SlogLogger) Error(msg string, args ...any) { a.l.Error(msg, args...) }
func (a *SlogLogger) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *SlogLogger) With(args ...any) Logger       { return &SlogLogger{l: a.l.With(args...)} }

// Slog exposes the wrapped logger for libraries that want *slog.Logger.
func (a *SlogLogger) Slog() *slog.Logger { return a.l }
