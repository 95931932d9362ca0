package objects

import (
	"context"
	"time"
)

// Logger receives structured diagnostic messages as key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome and latency of store operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Clock supplies time for latency measurements.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	logger  Logger
	metrics MetricsRecorder
	clock   Clock
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		clock:   ClockFunc(time.Now),
	}
}

// WithLogger installs a logger. A nil logger keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *storeOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the clock used for latency measurements.
func WithClock(c Clock) Option {
	return func(o *storeOptions) {
		if c != nil {
			o.clock = c
		}
	}
}
