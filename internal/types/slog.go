package types

import "log/slog"

// SlogLogger adapts *slog.Logger to the Logger interface. The binaries
// construct one at startup and hand it down to every component.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger wraps an existing slog logger.
func NewSlogLogger(l *slog.Logger) SlogLogger {
	return SlogLogger{L: l}
}

func (s SlogLogger) Info(msg string, args ...any)  { s.L.Info(msg, args...) }
func (s SlogLogger) Warn(msg string, args ...any)  { s.L.Warn(msg, args...) }
func (s SlogLogger) Error(msg string, args ...any) { s.L.Error(msg, args...) }

// With returns a Logger carrying the additional key/value pairs.
func (s SlogLogger) With(args ...any) Logger {
	return SlogLogger{L: s.L.With(args...)}
}
