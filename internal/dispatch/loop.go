// Package dispatch owns the scheduler's single dispatch goroutine. All
// scheduler state is confined to that goroutine: external callers hand work
// in through Post or Call and the loop interleaves those messages with the
// periodic job tick, watchdog expiry, and platform port delivery.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/atomsched/internal/scheduler"
	"github.com/me/atomsched/pkg/model"
)

const defaultMessageBuffer = 256

// Loop runs the dispatch goroutine for one scheduler instance.
//
// The loop serializes four event sources onto the scheduler: posted
// messages, platform port packets, the job tick, and the hang watchdog.
// The watchdog timer is re-armed from the scheduler's earliest deadline
// after every event, so a timeout fires as soon as it is due rather than
// waiting for the next tick.
type Loop struct {
	sched  *scheduler.Scheduler
	port   *scheduler.Port
	logger *slog.Logger

	msgs     chan func()
	tickHook func()

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithTickHook registers fn to run on the dispatch goroutine after every job
// tick. The metrics collector uses this to refresh queue gauges.
func WithTickHook(fn func()) Option {
	return func(l *Loop) {
		l.tickHook = fn
	}
}

// WithMessageBuffer sets the capacity of the posted-message queue.
func WithMessageBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.msgs = make(chan func(), n)
		}
	}
}

// NewLoop creates a dispatch loop for sched. The port must be the same
// port the scheduler's owner exposes; the loop drains it and forwards
// semaphore packets to the scheduler.
func NewLoop(sched *scheduler.Scheduler, port *scheduler.Port, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		sched:  sched,
		port:   port,
		logger: logger.With("component", "dispatch"),
		msgs:   make(chan func(), defaultMessageBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the dispatch loop until the context is cancelled or Stop is
// called. It blocks, so callers normally run it in its own goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("dispatch loop started",
		"job_slots", l.sched.JobSlots(),
		"job_tick", l.sched.JobTickDuration(),
	)

	ticker := time.NewTicker(l.sched.JobTickDuration())
	defer ticker.Stop()

	// The watchdog starts disarmed; rearm sets it to the scheduler's
	// earliest timeout deadline whenever one exists.
	watchdog := time.NewTimer(time.Hour)
	if !watchdog.Stop() {
		<-watchdog.C
	}
	armed := false
	rearm := func() {
		if armed && !watchdog.Stop() {
			select {
			case <-watchdog.C:
			default:
			}
		}
		armed = false
		if d, ok := l.sched.CurrentTimeoutDuration(); ok {
			watchdog.Reset(d)
			armed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopping", "reason", "context cancelled")
			close(l.doneCh)
			return ctx.Err()

		case <-l.stopCh:
			l.logger.Info("dispatch loop stopping", "reason", "stop requested")
			close(l.doneCh)
			return nil

		case fn := <-l.msgs:
			fn()
			rearm()

		case key := <-l.port.Packets():
			l.sched.PlatformPortSignaled(key)
			rearm()

		case <-ticker.C:
			l.sched.Tick()
			if l.tickHook != nil {
				l.tickHook()
			}
			rearm()

		case <-watchdog.C:
			armed = false
			l.sched.HandleTimedOutAtoms()
			rearm()
		}
	}
}

// Stop signals the loop to exit and waits for it to finish. Safe to call
// only once, and only after Start has been called.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// Post queues fn to run on the dispatch goroutine and returns without
// waiting for it. Posting from the dispatch goroutine itself is allowed as
// long as the message buffer has room; device completion callbacks rely on
// this.
func (l *Loop) Post(fn func()) {
	l.msgs <- fn
}

// Call runs fn on the dispatch goroutine and blocks until it has finished.
// It must not be called from the dispatch goroutine, which would deadlock.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Submit enqueues the atoms in order as one batch and schedules. Atoms
// carrying dependencies on each other should be submitted in the same batch
// so the dependent is tracked before scheduling runs.
func (l *Loop) Submit(atoms ...*model.Atom) {
	l.Post(func() {
		for _, atom := range atoms {
			l.sched.EnqueueAtom(atom)
		}
		l.sched.TryToSchedule()
	})
}

// CancelConnection cancels the connection's pending atoms and tags its
// executing ones, then releases its mappings so anything still on a slot is
// hard stopped. Blocks until the scheduler has processed the cancellation.
func (l *Loop) CancelConnection(conn *model.Connection) {
	l.Call(func() {
		l.sched.CancelAtomsForConnection(conn)
		l.sched.ReleaseMappingsForConnection(conn)
	})
}

// Snapshot returns the scheduler's current status, taken on the dispatch
// goroutine.
func (l *Loop) Snapshot() model.SchedulerStatus {
	var st model.SchedulerStatus
	l.Call(func() {
		st = l.sched.Status()
	})
	return st
}
