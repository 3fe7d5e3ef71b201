package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/atomsched/internal/scheduler"
	"github.com/me/atomsched/pkg/model"
)

// loopOwner is a minimal device for loop tests. It completes every atom it
// runs after a fixed delay, posting the completion back through the loop the
// way a real device callback does. All fields are touched only on the
// dispatch goroutine; tests read them through Loop.Call.
type loopOwner struct {
	port  *scheduler.Port
	loop  *Loop
	sched *scheduler.Scheduler

	delay     time.Duration
	hang      bool
	ran       []uint64
	hardStops int
	hangs     int
}

func (o *loopOwner) RunAtom(atom *model.Atom) {
	o.ran = append(o.ran, atom.ID)
	if o.hang {
		return
	}
	slot := atom.Slot()
	time.AfterFunc(o.delay, func() {
		o.loop.Post(func() {
			o.sched.JobCompleted(slot, model.ResultSuccess, 0)
		})
	})
}

func (o *loopOwner) SoftStopAtom(atom *model.Atom) {}

func (o *loopOwner) HardStopAtom(atom *model.Atom) {
	o.hardStops++
	slot := atom.Slot()
	o.loop.Post(func() {
		o.sched.JobCompleted(slot, model.ResultAtomTerminated, 0)
	})
}

func (o *loopOwner) AtomCompleted(atom *model.Atom, result model.ResultCode) {}

func (o *loopOwner) ReleaseMappingsForAtom(atom *model.Atom) {}

func (o *loopOwner) GetPlatformPort() *scheduler.Port { return o.port }

func (o *loopOwner) UpdateGpuActive(active bool) {}

func (o *loopOwner) IsInProtectedMode() bool { return false }

func (o *loopOwner) EnterProtectedMode() {}

func (o *loopOwner) ExitProtectedMode() bool { return true }

func (o *loopOwner) OutputHangMessage() { o.hangs++ }

func loopSetup(t *testing.T, opts ...scheduler.Option) (*Loop, *loopOwner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := &loopOwner{port: scheduler.NewPort(16)}

	base := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithJobTickDuration(5 * time.Millisecond),
	}
	sched := scheduler.New(owner, 2, append(base, opts...)...)
	loop := NewLoop(sched, owner.port, logger)
	owner.loop = loop
	owner.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)
	t.Cleanup(cancel)
	return loop, owner
}

// waitIdle polls until the scheduler is tracking no atoms.
func waitIdle(t *testing.T, loop *Loop) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := loop.Snapshot(); st.Tracked == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("scheduler did not go idle before deadline")
}

func atomResult(t *testing.T, loop *Loop, atom *model.Atom) model.ResultCode {
	t.Helper()
	var (
		result model.ResultCode
		ok     bool
	)
	loop.Call(func() { result, ok = atom.Result() })
	if !ok {
		t.Fatalf("atom %d has no result", atom.ID)
	}
	return result
}

func TestLoop_SubmitRunsAndCompletes(t *testing.T) {
	loop, owner := loopSetup(t)
	conn := model.NewConnection("conn-loop")

	a := model.NewAtom(conn, model.PriorityDefault)
	b := model.NewAtom(conn, model.PriorityDefault)
	c := model.NewAtom(conn, model.PriorityDefault)
	loop.Submit(a, b, c)

	waitIdle(t, loop)

	for _, atom := range []*model.Atom{a, b, c} {
		if got := atomResult(t, loop, atom); got != model.ResultSuccess {
			t.Errorf("atom %d result = %s, want SUCCESS", atom.ID, got)
		}
	}
	var ran []uint64
	loop.Call(func() { ran = owner.ran })
	if len(ran) != 3 || ran[0] != a.ID {
		t.Errorf("ran order = %v, want %d first", ran, a.ID)
	}
}

func TestLoop_WatchdogHardStopsHungAtom(t *testing.T) {
	loop, owner := loopSetup(t, scheduler.WithTimeoutDuration(25*time.Millisecond))
	owner.hang = true
	conn := model.NewConnection("conn-hang")

	atom := model.NewAtom(conn, model.PriorityDefault)
	loop.Submit(atom)

	waitIdle(t, loop)

	if got := atomResult(t, loop, atom); got != model.ResultTimedOut {
		t.Errorf("result = %s, want TIMED_OUT", got)
	}
	var hangs, hardStops int
	loop.Call(func() { hangs, hardStops = owner.hangs, owner.hardStops })
	if hangs != 1 {
		t.Errorf("hangs = %d, want 1", hangs)
	}
	if hardStops != 1 {
		t.Errorf("hard stops = %d, want 1", hardStops)
	}
}

func TestLoop_PortDeliversSemaphoreSignal(t *testing.T) {
	loop, _ := loopSetup(t)
	conn := model.NewConnection("conn-sem")
	sem := model.NewSemaphore("frame-ready")

	atom := model.NewSoftAtom(conn, model.SoftOpSemaphoreWait, sem)
	loop.Submit(atom)

	deadline := time.Now().Add(2 * time.Second)
	for loop.Snapshot().Waiting == 0 {
		if time.Now().After(deadline) {
			t.Fatal("atom never parked on the semaphore")
		}
		time.Sleep(2 * time.Millisecond)
	}

	sem.Signal()
	waitIdle(t, loop)

	if got := atomResult(t, loop, atom); got != model.ResultSuccess {
		t.Errorf("result = %s, want SUCCESS", got)
	}
}

func TestLoop_WatchdogTimesOutSemaphoreWait(t *testing.T) {
	loop, _ := loopSetup(t, scheduler.WithSemaphoreTimeoutDuration(30*time.Millisecond))
	conn := model.NewConnection("conn-sem-timeout")
	sem := model.NewSemaphore("never-signaled")

	atom := model.NewSoftAtom(conn, model.SoftOpSemaphoreWait, sem)
	loop.Submit(atom)

	waitIdle(t, loop)

	if got := atomResult(t, loop, atom); got != model.ResultTimedOut {
		t.Errorf("result = %s, want TIMED_OUT", got)
	}
}

func TestLoop_CancelConnection(t *testing.T) {
	loop, owner := loopSetup(t)
	owner.delay = 500 * time.Millisecond
	conn := model.NewConnection("conn-cancel")

	running1 := model.NewAtom(conn, model.PriorityDefault)
	running2 := model.NewAtom(conn, model.PriorityDefault)
	parked := model.NewAtom(conn, model.PriorityDefault)
	loop.Submit(running1, running2, parked)

	deadline := time.Now().Add(2 * time.Second)
	for loop.Snapshot().Executing != 2 {
		if time.Now().After(deadline) {
			t.Fatal("atoms never reached the slots")
		}
		time.Sleep(2 * time.Millisecond)
	}

	loop.CancelConnection(conn)
	waitIdle(t, loop)

	for _, atom := range []*model.Atom{running1, running2, parked} {
		if got := atomResult(t, loop, atom); got != model.ResultAtomTerminated {
			t.Errorf("atom %d result = %s, want ATOM_TERMINATED", atom.ID, got)
		}
	}
	var hardStops int
	loop.Call(func() { hardStops = owner.hardStops })
	if hardStops != 2 {
		t.Errorf("hard stops = %d, want 2", hardStops)
	}
}

func TestLoop_TickHookRuns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := &loopOwner{port: scheduler.NewPort(16)}
	sched := scheduler.New(owner, 2,
		scheduler.WithLogger(logger),
		scheduler.WithJobTickDuration(5*time.Millisecond),
	)

	ticks := 0
	loop := NewLoop(sched, owner.port, logger, WithTickHook(func() { ticks++ }))
	owner.loop = loop
	owner.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)
	t.Cleanup(cancel)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int
		loop.Call(func() { n = ticks })
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tick hook ran %d times, want at least 2", n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLoop_StopWaitsForExit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := &loopOwner{port: scheduler.NewPort(16)}
	sched := scheduler.New(owner, 2,
		scheduler.WithLogger(logger),
		scheduler.WithJobTickDuration(5*time.Millisecond),
	)
	loop := NewLoop(sched, owner.port, logger)
	owner.loop = loop
	owner.sched = sched

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Start(context.Background()) }()

	// Let the loop reach its select before stopping it.
	loop.Call(func() {})
	loop.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestLoop_ContextCancelStops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := &loopOwner{port: scheduler.NewPort(16)}
	sched := scheduler.New(owner, 2,
		scheduler.WithLogger(logger),
		scheduler.WithJobTickDuration(5*time.Millisecond),
	)
	loop := NewLoop(sched, owner.port, logger)
	owner.loop = loop
	owner.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Start(ctx) }()

	loop.Call(func() {})
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
