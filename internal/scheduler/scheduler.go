package scheduler

import (
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/me/atomsched/pkg/model"
)

// Scheduler arbitrates a fixed set of job slots among atoms. It keeps four
// queues: the master submission list, per-priority runnable queues, the
// semaphore wait list and the per-slot executing table. All methods must be
// called from a single dispatch goroutine; the structure holds no locks.
//
// The owner is the device: the scheduler tells it to run, soft-stop or
// hard-stop atoms and the owner reports outcomes back via JobCompleted.
type Scheduler struct {
	owner      Owner
	logger     *slog.Logger
	clock      func() time.Time
	sink       EventSink
	port       *Port
	portNotify func(key uint64)

	jobSlots                 int
	jobTickDuration          time.Duration
	timeoutDuration          time.Duration
	semaphoreTimeoutDuration time.Duration

	atoms     []*model.Atom                      // every tracked atom, submission order
	runnable  [model.NumPriorities][]*model.Atom // FIFO per priority
	waiting   []*model.Atom                      // soft atoms parked on semaphores
	executing []*model.Atom                      // indexed by slot, nil = free

	wantProtected    bool
	wantNonprotected bool
	gpuActive        bool
}

// New creates a scheduler arbitrating jobSlots slots on behalf of owner.
// A non-positive jobSlots falls back to DefaultJobSlots.
func New(owner Owner, jobSlots int, opts ...Option) *Scheduler {
	if jobSlots <= 0 {
		jobSlots = DefaultJobSlots
	}
	s := &Scheduler{
		owner:                    owner,
		logger:                   slog.Default().With("component", "scheduler"),
		clock:                    time.Now,
		sink:                     nopSink{},
		jobSlots:                 jobSlots,
		jobTickDuration:          DefaultJobTickDuration,
		timeoutDuration:          DefaultTimeoutDuration,
		semaphoreTimeoutDuration: DefaultSemaphoreTimeoutDuration,
		executing:                make([]*model.Atom, jobSlots),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.port = owner.GetPlatformPort()
	if s.port != nil {
		s.portNotify = s.port.Signal
	} else {
		s.portNotify = func(uint64) {}
	}
	return s
}

// JobSlots returns the number of slots being arbitrated.
func (s *Scheduler) JobSlots() int {
	return s.jobSlots
}

// JobTickDuration returns the period the dispatch loop should tick at.
func (s *Scheduler) JobTickDuration() time.Duration {
	return s.jobTickDuration
}

// AtomListSize returns the number of atoms currently tracked in any
// non-terminal state.
func (s *Scheduler) AtomListSize() int {
	return len(s.atoms)
}

// EnqueueAtom accepts an atom into the master queue. Invalid atoms (no
// connection, self-dependency, resubmission, soft atom without a semaphore)
// complete immediately with JOB_INVALID. Enqueueing never dispatches; call
// TryToSchedule afterwards.
func (s *Scheduler) EnqueueAtom(atom *model.Atom) {
	if atom == nil {
		return
	}
	if reason := s.validateAtom(atom); reason != "" {
		s.logger.Warn("rejecting atom", "atom", atom.ID, "reason", reason)
		s.completeAtom(atom, model.ResultJobInvalid, true, model.EventFailed, reason)
		return
	}
	if atom.SubmittedAt.IsZero() {
		atom.SubmittedAt = s.clock()
	}
	s.atoms = append(s.atoms, atom)
	s.sink.Record(s.newEvent(model.EventEnqueued, atom))
	s.logger.Debug("atom enqueued",
		"atom", atom.ID,
		"connection", atom.ConnectionID(),
		"priority", atom.Priority,
		"soft", atom.IsSoft())
}

func (s *Scheduler) validateAtom(atom *model.Atom) string {
	if atom.Conn == nil {
		return "atom has no connection"
	}
	if atom.State() != model.AtomStateQueued {
		return "atom resubmitted after leaving QUEUED"
	}
	if _, done := atom.Result(); done {
		return "atom already carries a result"
	}
	if atom.Dependency() == atom {
		return "atom depends on itself"
	}
	if atom.IsSoft() {
		if !atom.SoftOp.Valid() {
			return "unknown soft operation"
		}
		if atom.Semaphore == nil {
			return "soft atom without a semaphore"
		}
	}
	if slices.Contains(s.atoms, atom) {
		return "atom already enqueued"
	}
	return ""
}

// TryToSchedule promotes queued atoms whose dependencies finished and fills
// free slots from the runnable queues, highest priority first. It is the
// single scheduling entry point: completions, signals, ticks and cancels all
// funnel through here after mutating the queues.
func (s *Scheduler) TryToSchedule() {
	s.moveAtomsToRunnable()
	s.scheduleRunnableAtoms()
	s.updateGpuActive()
}

// Tick runs one periodic scheduling pass. The job tick exists to retry
// pending mode switches (a failed protected-mode exit leaves an intent
// behind) and to catch any promotion missed by event-driven passes.
func (s *Scheduler) Tick() {
	s.TryToSchedule()
}

func (s *Scheduler) moveAtomsToRunnable() {
	queued := make([]*model.Atom, 0, len(s.atoms))
	for _, atom := range s.atoms {
		if atom.State() == model.AtomStateQueued {
			queued = append(queued, atom)
		}
	}
	for _, atom := range queued {
		if !atom.DependencyFinished() {
			continue
		}
		if depResult := atom.DependencyResult(); depResult.IsFailure() {
			// One hop: the dependent fails with the dependency's code. Its
			// own dependents see that code and fail in the next pass.
			s.completeAtom(atom, depResult, true, model.EventDependencyFailed, "dependency failed")
			continue
		}
		if atom.Conn != nil && atom.Conn.Cancelled() {
			s.completeAtom(atom, model.ResultAtomTerminated, false, model.EventCancelled, "connection cancelled before promotion")
			continue
		}
		if atom.IsSoft() {
			s.processSoftAtom(atom)
			continue
		}
		atom.SetState(model.AtomStateRunnable)
		pi := atom.Priority.Index()
		s.runnable[pi] = append(s.runnable[pi], atom)
		s.sink.Record(s.newEvent(model.EventRunnable, atom))
	}
}

func (s *Scheduler) processSoftAtom(atom *model.Atom) {
	sem := atom.Semaphore
	switch atom.SoftOp {
	case model.SoftOpSemaphoreSet:
		sem.Signal()
		s.completeAtom(atom, model.ResultSuccess, true, model.EventCompleted, "semaphore set")
	case model.SoftOpSemaphoreReset:
		sem.Reset()
		s.completeAtom(atom, model.ResultSuccess, true, model.EventCompleted, "semaphore reset")
	case model.SoftOpSemaphoreWait, model.SoftOpSemaphoreWaitAndReset:
		if sem.Signaled() {
			if atom.SoftOp == model.SoftOpSemaphoreWaitAndReset {
				sem.Reset()
			}
			s.completeAtom(atom, model.ResultSuccess, true, model.EventCompleted, "semaphore already signaled")
			return
		}
		atom.SetState(model.AtomStateWaiting)
		atom.MarkWaitStart(s.clock())
		s.waiting = append(s.waiting, atom)
		sem.WaitAsync(s.portNotify)
		s.sink.Record(s.newEvent(model.EventWaiting, atom))
	}
}

func (s *Scheduler) scheduleRunnableAtoms() {
	for {
		if s.wantProtected || s.wantNonprotected {
			if s.executingCount() > 0 {
				// Draining: no dispatches in either mode until the slots
				// empty and the switch happens.
				return
			}
			if !s.performModeSwitch() {
				return
			}
		}

		atom, pi := s.nextRunnable()
		if atom == nil {
			return
		}
		if atom.Protected != s.owner.IsInProtectedMode() {
			s.requestModeSwitch(atom.Protected, atom)
			continue
		}
		slot := s.freeSlot()
		if slot < 0 {
			s.preemptLowerPriority()
			return
		}
		s.runnable[pi] = s.runnable[pi][1:]
		s.dispatchAtom(atom, slot)
	}
}

// nextRunnable returns the head of the highest-priority non-empty runnable
// queue.
func (s *Scheduler) nextRunnable() (*model.Atom, int) {
	for pi := model.NumPriorities - 1; pi >= 0; pi-- {
		if len(s.runnable[pi]) > 0 {
			return s.runnable[pi][0], pi
		}
	}
	return nil, -1
}

func (s *Scheduler) freeSlot() int {
	for i, atom := range s.executing {
		if atom == nil {
			return i
		}
	}
	return -1
}

func (s *Scheduler) executingCount() int {
	n := 0
	for _, atom := range s.executing {
		if atom != nil {
			n++
		}
	}
	return n
}

func (s *Scheduler) dispatchAtom(atom *model.Atom, slot int) {
	atom.SetState(model.AtomStateExecuting)
	atom.AssignSlot(slot)
	atom.MarkExecutionStart(s.clock())
	atom.MarkSoftStopped(false)
	s.executing[slot] = atom

	ev := s.newEvent(model.EventDispatched, atom)
	if !atom.SubmittedAt.IsZero() {
		ev.Latency = s.clock().Sub(atom.SubmittedAt)
	}
	s.sink.Record(ev)
	s.logger.Debug("atom dispatched",
		"atom", atom.ID,
		"slot", slot,
		"priority", atom.Priority,
		"protected", atom.Protected)
	s.owner.RunAtom(atom)
}

// preemptLowerPriority pairs the highest-priority runnable atoms with the
// lowest-priority executing ones and requests one soft stop per pairing
// where the waiter strictly outranks the runner. Equal priorities never
// preempt, and atoms executing in protected mode cannot be stopped.
func (s *Scheduler) preemptLowerPriority() {
	var waiters []*model.Atom
	for pi := model.NumPriorities - 1; pi >= 0; pi-- {
		waiters = append(waiters, s.runnable[pi]...)
	}
	if len(waiters) == 0 {
		return
	}

	candidates := make([]*model.Atom, 0, len(s.executing))
	for _, atom := range s.executing {
		if atom != nil {
			candidates = append(candidates, atom)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority.Index() < candidates[j].Priority.Index()
	})

	ci := 0
	for _, w := range waiters {
		stopped := false
		for ci < len(candidates) {
			c := candidates[ci]
			if !w.Priority.Above(c.Priority) {
				// Candidates are sorted ascending, so no later candidate
				// is stoppable by this or any lower-priority waiter.
				return
			}
			ci++
			if c.HardStopRequested() || c.SoftStopRequested() {
				// A stop is already in flight; that slot is spoken for.
				stopped = true
				break
			}
			if c.Protected {
				continue
			}
			c.MarkSoftStopped(true)
			s.sink.Record(s.newEvent(model.EventSoftStopRequested, c))
			s.logger.Debug("soft stopping atom for higher priority",
				"atom", c.ID,
				"slot", c.Slot(),
				"priority", c.Priority,
				"waiter", w.ID,
				"waiter_priority", w.Priority)
			s.owner.SoftStopAtom(c)
			stopped = true
			break
		}
		if !stopped {
			return
		}
	}
}

func (s *Scheduler) requestModeSwitch(protected bool, atom *model.Atom) {
	if protected {
		if s.wantProtected {
			return
		}
		s.wantProtected, s.wantNonprotected = true, false
	} else {
		if s.wantNonprotected {
			return
		}
		s.wantNonprotected, s.wantProtected = true, false
	}
	ev := s.newEvent(model.EventModeSwitch, atom)
	if protected {
		ev.Detail = "enter_pending"
	} else {
		ev.Detail = "exit_pending"
	}
	s.sink.Record(ev)
	s.logger.Info("mode switch pending",
		"protected", protected,
		"atom", atom.ID,
		"executing", s.executingCount())
}

// performModeSwitch flips the device mode once the slots are drained.
// Returns false if the switch could not happen; the intent stays set and
// the job tick retries.
func (s *Scheduler) performModeSwitch() bool {
	if !s.validateCanSwitchProtected() {
		s.logger.Error("mode switch blocked with busy slots", "executing", s.executingCount())
		return false
	}
	switch {
	case s.wantProtected:
		s.owner.EnterProtectedMode()
		s.wantProtected = false
		ev := s.newEvent(model.EventModeSwitch, nil)
		ev.Detail = "protected"
		s.sink.Record(ev)
		s.logger.Info("entered protected mode")
	case s.wantNonprotected:
		if !s.owner.ExitProtectedMode() {
			s.sink.Record(s.newEvent(model.EventModeSwitchFailed, nil))
			s.logger.Warn("protected mode exit failed, will retry")
			return false
		}
		s.wantNonprotected = false
		ev := s.newEvent(model.EventModeSwitch, nil)
		ev.Detail = "normal"
		s.sink.Record(ev)
		s.logger.Info("exited protected mode")
	}
	return true
}

func (s *Scheduler) validateCanSwitchProtected() bool {
	return s.executingCount() == 0
}

// JobCompleted reports the outcome of the atom occupying slot. A
// SOFT_STOPPED result returns the atom to the head of its priority queue
// with tail as the new resume address; anything else is terminal. Atoms
// tagged owner-gone finish silently: their result is recorded for
// dependents but never delivered.
func (s *Scheduler) JobCompleted(slot int, result model.ResultCode, tail uint64) {
	if slot < 0 || slot >= len(s.executing) {
		s.logger.Error("completion for slot out of range", "slot", slot)
		return
	}
	atom := s.executing[slot]
	if atom == nil {
		s.logger.Warn("completion for idle slot", "slot", slot, "result", result)
		return
	}

	if result == model.ResultSoftStopped {
		if !atom.OwnerGone() && !atom.HardStopRequested() {
			ev := s.newEvent(model.EventSoftStopped, atom)
			ev.Result = model.ResultSoftStopped.String()
			s.executing[slot] = nil
			atom.ClearSlot()
			atom.GPUAddress = tail
			atom.MarkSoftStopped(false)
			atom.SetState(model.AtomStateRunnable)
			pi := atom.Priority.Index()
			s.runnable[pi] = slices.Insert(s.runnable[pi], 0, atom)
			s.sink.Record(ev)
			s.logger.Debug("atom soft stopped",
				"atom", atom.ID,
				"slot", slot,
				"tail", tail)
			s.TryToSchedule()
			return
		}
		// A stop that raced a cancellation or hard stop does not resume.
		result = model.ResultAtomTerminated
	}

	if atom.OwnerGone() {
		s.completeAtom(atom, result, false, "", "owner gone, completion dropped")
		s.TryToSchedule()
		return
	}

	s.completeAtom(atom, result, true, "", "")
	s.TryToSchedule()
}

// CancelAtomsForConnection withdraws every atom belonging to conn. Queued,
// runnable and waiting atoms complete as ATOM_TERMINATED without callbacks;
// executing atoms are tagged owner-gone and keep their slots until they
// finish or time out.
func (s *Scheduler) CancelAtomsForConnection(conn *model.Connection) {
	if conn == nil {
		return
	}
	conn.Cancel()
	removed := 0
	for _, atom := range slices.Clone(s.atoms) {
		if atom.Conn != conn {
			continue
		}
		switch atom.State() {
		case model.AtomStateQueued, model.AtomStateRunnable, model.AtomStateWaiting:
			s.completeAtom(atom, model.ResultAtomTerminated, false, model.EventCancelled, "connection cancelled")
			removed++
		case model.AtomStateExecuting:
			if !atom.OwnerGone() {
				atom.MarkOwnerGone()
				s.sink.Record(s.newEvent(model.EventOwnerGone, atom))
				s.logger.Info("executing atom tagged owner-gone",
					"atom", atom.ID,
					"slot", atom.Slot())
			}
		}
	}
	s.logger.Info("connection cancelled", "connection", conn.ID, "removed", removed)
	s.TryToSchedule()
}

// ReleaseMappingsForConnection hard-stops conn's executing atoms so the
// device stops touching its address space immediately. Used at teardown
// after CancelAtomsForConnection when the mappings are about to go away.
func (s *Scheduler) ReleaseMappingsForConnection(conn *model.Connection) {
	if conn == nil {
		return
	}
	for _, atom := range s.executing {
		if atom == nil || atom.Conn != conn || atom.HardStopRequested() {
			continue
		}
		atom.MarkHardStopped()
		s.sink.Record(s.newEvent(model.EventHardStopRequested, atom))
		s.logger.Info("hard stopping atom to release mappings",
			"atom", atom.ID,
			"slot", atom.Slot())
		s.owner.ReleaseMappingsForAtom(atom)
		s.owner.HardStopAtom(atom)
	}
}

// PlatformPortSignaled delivers a semaphore signal packet. Waiting atoms
// whose semaphore carries key complete with SUCCESS; wait-and-reset atoms
// consume the signal, so later waiters in FIFO order re-register for the
// next one.
func (s *Scheduler) PlatformPortSignaled(key uint64) {
	completed := false
	for _, atom := range slices.Clone(s.waiting) {
		if atom.State() != model.AtomStateWaiting {
			continue
		}
		sem := atom.Semaphore
		if sem == nil || sem.Key() != key {
			continue
		}
		if !sem.Signaled() {
			// Consumed by an earlier wait-and-reset or a stale packet;
			// re-register for the next signal.
			sem.WaitAsync(s.portNotify)
			continue
		}
		if atom.SoftOp == model.SoftOpSemaphoreWaitAndReset {
			sem.Reset()
		}
		s.completeAtom(atom, model.ResultSuccess, true, model.EventCompleted, "semaphore signaled")
		completed = true
	}
	if completed {
		s.TryToSchedule()
	}
}

// HandleTimedOutAtoms hard-stops executing atoms that exceeded the execution
// timeout and fails waiting atoms that exceeded the semaphore timeout. The
// dispatch loop calls this when the watchdog armed from
// CurrentTimeoutDuration fires.
func (s *Scheduler) HandleTimedOutAtoms() {
	now := s.clock()
	finishedWaiters := false

	for _, atom := range s.executing {
		if atom == nil || atom.HardStopRequested() {
			continue
		}
		if now.Sub(atom.ExecutionStart()) < s.timeoutDuration {
			continue
		}
		s.logger.Error("atom exceeded execution timeout",
			"atom", atom.ID,
			"slot", atom.Slot(),
			"running_for", now.Sub(atom.ExecutionStart()))
		s.owner.OutputHangMessage()
		atom.SetResult(model.ResultTimedOut)
		atom.MarkHardStopped()
		s.sink.Record(s.newEvent(model.EventTimedOut, atom))
		s.owner.HardStopAtom(atom)
	}

	for _, atom := range slices.Clone(s.waiting) {
		if atom.State() != model.AtomStateWaiting {
			continue
		}
		if now.Sub(atom.WaitStart()) < s.semaphoreTimeoutDuration {
			continue
		}
		s.completeAtom(atom, model.ResultTimedOut, true, model.EventFailed, "semaphore wait timed out")
		finishedWaiters = true
	}

	if finishedWaiters {
		s.TryToSchedule()
	}
}

// CurrentTimeoutDuration returns how long until the earliest outstanding
// deadline (execution or semaphore), and false when nothing is pending so
// the watchdog can be disarmed.
func (s *Scheduler) CurrentTimeoutDuration() (time.Duration, bool) {
	var deadline time.Time
	have := false
	consider := func(t time.Time) {
		if !have || t.Before(deadline) {
			deadline = t
			have = true
		}
	}
	for _, atom := range s.executing {
		if atom == nil || atom.HardStopRequested() {
			continue
		}
		consider(atom.ExecutionStart().Add(s.timeoutDuration))
	}
	for _, atom := range s.waiting {
		if atom.State() != model.AtomStateWaiting {
			continue
		}
		consider(atom.WaitStart().Add(s.semaphoreTimeoutDuration))
	}
	if !have {
		return 0, false
	}
	remaining := deadline.Sub(s.clock())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Status snapshots the queues, slots and mode for status endpoints.
func (s *Scheduler) Status() model.SchedulerStatus {
	now := s.clock()
	st := model.SchedulerStatus{
		JobSlots:         s.jobSlots,
		Tracked:          len(s.atoms),
		Runnable:         make(map[model.Priority]int, model.NumPriorities),
		Waiting:          len(s.waiting),
		Executing:        s.executingCount(),
		ProtectedMode:    s.owner.IsInProtectedMode(),
		PendingSwitch:    s.pendingSwitchName(),
		GpuActive:        s.gpuActive,
		Timeout:          s.timeoutDuration,
		SemaphoreTimeout: s.semaphoreTimeoutDuration,
		JobTick:          s.jobTickDuration,
	}
	for _, atom := range s.atoms {
		if atom.State() == model.AtomStateQueued {
			st.Queued++
		}
		st.Atoms = append(st.Atoms, atom.Snapshot())
	}
	for _, p := range model.AllPriorities {
		st.Runnable[p] = len(s.runnable[p.Index()])
	}
	st.Slots = make([]model.SlotStatus, s.jobSlots)
	for i, atom := range s.executing {
		st.Slots[i] = model.SlotStatus{Slot: i}
		if atom == nil {
			continue
		}
		st.Slots[i].AtomID = atom.ID
		st.Slots[i].ConnectionID = atom.ConnectionID()
		st.Slots[i].Priority = atom.Priority
		st.Slots[i].Protected = atom.Protected
		st.Slots[i].RunningFor = now.Sub(atom.ExecutionStart())
		st.Slots[i].SoftStopPending = atom.SoftStopRequested()
	}
	return st
}

func (s *Scheduler) pendingSwitchName() string {
	switch {
	case s.wantProtected:
		return "protected"
	case s.wantNonprotected:
		return "normal"
	}
	return ""
}

func (s *Scheduler) completeAtom(atom *model.Atom, result model.ResultCode, notify bool, kind model.EventKind, detail string) {
	effective := result
	if !atom.SetResult(result) {
		// A result was pinned earlier (timeout, cancellation); it wins
		// over whatever the device reported.
		effective, _ = atom.Result()
	}
	atom.SetState(model.AtomStateCompleted)

	if kind == "" {
		if effective.IsFailure() {
			kind = model.EventFailed
		} else {
			kind = model.EventCompleted
		}
	}
	ev := s.newEvent(kind, atom)
	ev.Result = effective.String()
	ev.Detail = detail
	if !atom.SubmittedAt.IsZero() {
		ev.Latency = s.clock().Sub(atom.SubmittedAt)
	}

	s.removeFromLists(atom)
	if notify {
		s.owner.AtomCompleted(atom, effective)
	} else {
		// Retired without a client to notify; the owner still has to drop
		// the atom's address space references.
		s.owner.ReleaseMappingsForAtom(atom)
	}
	s.sink.Record(ev)
	s.logger.Debug("atom finished",
		"atom", atom.ID,
		"result", effective,
		"notified", notify)
}

func (s *Scheduler) removeFromLists(atom *model.Atom) {
	s.atoms = slices.DeleteFunc(s.atoms, func(a *model.Atom) bool { return a == atom })
	pi := atom.Priority.Index()
	s.runnable[pi] = slices.DeleteFunc(s.runnable[pi], func(a *model.Atom) bool { return a == atom })
	s.waiting = slices.DeleteFunc(s.waiting, func(a *model.Atom) bool { return a == atom })
	if sl := atom.Slot(); sl >= 0 && sl < len(s.executing) && s.executing[sl] == atom {
		s.executing[sl] = nil
	}
	atom.ClearSlot()
}

func (s *Scheduler) updateGpuActive() {
	active := s.executingCount() > 0
	if active == s.gpuActive {
		return
	}
	s.gpuActive = active
	s.owner.UpdateGpuActive(active)
	ev := s.newEvent(model.EventPower, nil)
	if active {
		ev.Detail = "active"
	} else {
		ev.Detail = "idle"
	}
	s.sink.Record(ev)
}

func (s *Scheduler) newEvent(kind model.EventKind, atom *model.Atom) model.Event {
	ev := model.Event{Time: s.clock(), Kind: kind, Slot: -1}
	if atom != nil {
		ev.AtomID = atom.ID
		ev.ConnectionID = atom.ConnectionID()
		ev.Priority = atom.Priority
		ev.Slot = atom.Slot()
	}
	return ev
}
