package scheduler

import (
	"log/slog"
	"time"
)

// Defaults mirror the hardware driver's tuning: a 100ms job tick, 2s before
// an executing atom counts as hung, 5s before a semaphore wait gives up.
const (
	DefaultJobSlots                 = 2
	DefaultJobTickDuration          = 100 * time.Millisecond
	DefaultTimeoutDuration          = 2 * time.Second
	DefaultSemaphoreTimeoutDuration = 5 * time.Second
)

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.With("component", "scheduler")
	}
}

// WithClock overrides the time source. Tests use this to step timeouts
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.clock = now }
}

// WithEventSink sets the trace event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithTimeoutDuration sets how long an atom may execute before it is
// treated as hung and hard-stopped.
func WithTimeoutDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeoutDuration = d
		}
	}
}

// WithSemaphoreTimeoutDuration sets how long a soft atom may wait on its
// semaphore before failing with TIMED_OUT.
func WithSemaphoreTimeoutDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.semaphoreTimeoutDuration = d
		}
	}
}

// WithJobTickDuration sets the period of the scheduling tick that retries
// pending mode switches and re-runs dispatch.
func WithJobTickDuration(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTickDuration = d
		}
	}
}
