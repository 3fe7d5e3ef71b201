package workload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/atomsched/internal/dispatch"
	"github.com/me/atomsched/internal/gpu"
	"github.com/me/atomsched/internal/scheduler"
	"github.com/me/atomsched/pkg/model"
)

// idlePollInterval paces the wait for the scheduler to drain after the last
// timeline action fired.
const idlePollInterval = 5 * time.Millisecond

// Runner replays scenarios against a fresh scheduler, dispatch loop and
// simulated device, in real time, and reports what happened.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a scenario runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// captureSink collects the scheduler's event stream for the report. Record
// runs on the dispatch goroutine; the slice is read only after the loop has
// stopped.
type captureSink struct {
	events []model.Event
}

func (c *captureSink) Record(ev model.Event) {
	c.events = append(c.events, ev)
}

// action is one timed step of a replay: a submission batch, a semaphore
// signal or reset, or a connection cancel.
type action struct {
	submit []*model.Atom
	signal *model.Semaphore
	reset  bool
	cancel *model.Connection
	label  string
}

// Run validates the scenario, replays it and returns the report. The replay
// runs in real time: submit_at_ms and at_ms offsets are honored with the
// wall clock, and Run returns once every atom has retired or ctx ends.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	v := NewValidator(r.logger)
	if apiErr := v.Validate(sc); apiErr != nil {
		return nil, apiErr
	}

	devOpts := []gpu.Option{gpu.WithLogger(r.logger)}
	if sc.DefaultDurationMS > 0 {
		devOpts = append(devOpts, gpu.WithDefaultProfile(gpu.Profile{
			Duration: time.Duration(sc.DefaultDurationMS) * time.Millisecond,
		}))
	}
	dev := gpu.NewSimDevice(devOpts...)

	sink := &captureSink{}
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(r.logger),
		scheduler.WithEventSink(sink),
	}
	if sc.JobTickMS > 0 {
		schedOpts = append(schedOpts, scheduler.WithJobTickDuration(time.Duration(sc.JobTickMS)*time.Millisecond))
	}
	if sc.TimeoutMS > 0 {
		schedOpts = append(schedOpts, scheduler.WithTimeoutDuration(time.Duration(sc.TimeoutMS)*time.Millisecond))
	}
	if sc.SemaphoreTimeoutMS > 0 {
		schedOpts = append(schedOpts, scheduler.WithSemaphoreTimeoutDuration(time.Duration(sc.SemaphoreTimeoutMS)*time.Millisecond))
	}
	sched := scheduler.New(dev, sc.JobSlots, schedOpts...)
	loop := dispatch.NewLoop(sched, dev.GetPlatformPort(), r.logger)
	dev.Bind(loop.Post, sched.JobCompleted)

	conns := make(map[string]*model.Connection, len(sc.Connections))
	for _, cs := range sc.Connections {
		name := cs.Name
		if name == "" {
			name = cs.ID
		}
		conns[cs.ID] = model.NewConnection(name)
	}
	sems := make(map[string]*model.Semaphore, len(sc.Semaphores))
	for _, ss := range sc.Semaphores {
		name := ss.Name
		if name == "" {
			name = ss.ID
		}
		sem := model.NewSemaphore(name)
		if ss.Signaled {
			sem.Signal()
		}
		sems[ss.ID] = sem
	}

	atoms, err := r.buildAtoms(sc, dev, conns, sems)
	if err != nil {
		return nil, err
	}
	tl := r.buildTimeline(sc, atoms, sems, conns)

	r.logger.Info("replaying scenario",
		"scenario", sc.Name,
		"atoms", len(atoms),
		"actions", tl.len())
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Start(runCtx) }()

	for {
		act, at, ok := tl.pop()
		if !ok {
			break
		}
		if err := sleepUntil(ctx, start, at); err != nil {
			return nil, err
		}
		switch {
		case act.submit != nil:
			r.logger.Debug("submitting batch", "at", at, "atoms", len(act.submit))
			loop.Submit(act.submit...)
		case act.signal != nil:
			if act.reset {
				r.logger.Debug("resetting semaphore", "at", at, "semaphore", act.label)
				act.signal.Reset()
			} else {
				r.logger.Debug("signaling semaphore", "at", at, "semaphore", act.label)
				act.signal.Signal()
			}
		case act.cancel != nil:
			r.logger.Debug("cancelling connection", "at", at, "connection", act.label)
			loop.CancelConnection(act.cancel)
		}
	}

	for {
		st := loop.Snapshot()
		if st.Tracked == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(idlePollInterval):
		}
	}

	loop.Stop()
	if err := <-loopErr; err != nil {
		return nil, fmt.Errorf("dispatch loop: %w", err)
	}

	report := buildReport(sc, atoms, sink.events, time.Since(start))
	r.logger.Info("replay finished",
		"scenario", sc.Name,
		"duration", report.Duration,
		"completed", report.Completed,
		"failed", report.Failed,
		"cancelled", report.Cancelled)
	return report, nil
}

// buildAtoms mints model atoms for every spec and installs their execution
// profiles on the device.
func (r *Runner) buildAtoms(sc *Scenario, dev *gpu.SimDevice, conns map[string]*model.Connection, sems map[string]*model.Semaphore) (map[string]*model.Atom, error) {
	atoms := make(map[string]*model.Atom, len(sc.Atoms))
	for i := range sc.Atoms {
		spec := &sc.Atoms[i]
		conn := conns[spec.Connection]

		if spec.IsSoft() {
			atoms[spec.ID] = model.NewSoftAtom(conn, model.SoftOp(spec.SoftOp), sems[spec.Semaphore])
			continue
		}

		prio := model.PriorityDefault
		if spec.Priority != "" {
			p, err := model.ParsePriority(spec.Priority)
			if err != nil {
				return nil, fmt.Errorf("atom %q: %w", spec.ID, err)
			}
			prio = p
		}
		atom := model.NewAtom(conn, prio)
		atom.Protected = spec.Protected
		atom.GPUAddress = spec.GPUAddress

		prof := gpu.Profile{Hang: spec.Hang}
		if spec.DurationMS > 0 {
			prof.Duration = time.Duration(spec.DurationMS) * time.Millisecond
		}
		if spec.Result != "" {
			rc, err := model.ParseResultCode(spec.Result)
			if err != nil {
				return nil, fmt.Errorf("atom %q: %w", spec.ID, err)
			}
			prof.Result = rc
		}
		dev.SetProfile(atom.ID, prof)
		atoms[spec.ID] = atom
	}

	// Second pass so forward references work.
	for _, spec := range sc.Atoms {
		if spec.DependsOn != "" {
			atoms[spec.ID].SetDependency(atoms[spec.DependsOn])
		}
	}
	return atoms, nil
}

// buildTimeline orders every scenario action by its offset. Atoms sharing a
// submit_at_ms go out as one batch so dependent pairs enter the queue in a
// single dispatch pass.
func (r *Runner) buildTimeline(sc *Scenario, atoms map[string]*model.Atom, sems map[string]*model.Semaphore, conns map[string]*model.Connection) *timeline[time.Duration, action] {
	tl := newTimeline[time.Duration, action]()

	batches := make(map[time.Duration][]*model.Atom)
	var offsets []time.Duration
	for _, spec := range sc.Atoms {
		at := spec.SubmitAt()
		if _, seen := batches[at]; !seen {
			offsets = append(offsets, at)
		}
		batches[at] = append(batches[at], atoms[spec.ID])
	}
	for _, at := range offsets {
		tl.push(action{submit: batches[at]}, at)
	}
	for _, sig := range sc.Signals {
		tl.push(action{
			signal: sems[sig.Semaphore],
			reset:  sig.Reset,
			label:  sig.Semaphore,
		}, time.Duration(sig.AtMS)*time.Millisecond)
	}
	for _, c := range sc.Cancels {
		tl.push(action{
			cancel: conns[c.Connection],
			label:  c.Connection,
		}, time.Duration(c.AtMS)*time.Millisecond)
	}
	return tl
}

// sleepUntil blocks until the replay clock reaches offset, or ctx ends.
func sleepUntil(ctx context.Context, start time.Time, offset time.Duration) error {
	delay := offset - time.Since(start)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
