package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// platform. The binaries wrap *slog.Logger in a small adapter because
// slog's With returns *slog.Logger rather than this interface.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards all log output. Used as the default in constructors
// and in tests that do not assert on logging.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)     {}
func (NopLogger) Warn(string, ...any)     {}
func (NopLogger) Error(string, ...any)    {}
func (NopLogger) With(...any) Logger      { return NopLogger{} }
