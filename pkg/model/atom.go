package model

import (
	"sync/atomic"
	"time"
)

var atomIDs atomic.Uint64

// Atom is one unit of GPU work. Hard atoms run on a job slot; soft atoms
// perform a semaphore operation and never touch the hardware.
//
// The identity fields below are set before enqueue and never change. All
// scheduling state (state, slot, result, stop flags) is owned by the
// scheduler and must only be touched from its dispatch goroutine.
type Atom struct {
	ID          uint64
	Conn        *Connection
	Priority    Priority
	Protected   bool
	SoftOp      SoftOp
	Semaphore   *Semaphore
	GPUAddress  uint64
	SubmittedAt time.Time

	state       AtomState
	result      ResultCode
	resultSet   bool
	dep         *Atom
	depResult   ResultCode
	depSaved    bool
	slot        int
	softStopped bool
	hardStopped bool
	ownerGone   bool
	execStart   time.Time
	waitStart   time.Time
}

// NewAtom creates a hard atom for the given connection. The ID is unique
// for the lifetime of the process.
func NewAtom(conn *Connection, priority Priority) *Atom {
	return &Atom{
		ID:       atomIDs.Add(1),
		Conn:     conn,
		Priority: priority,
		state:    AtomStateQueued,
		slot:     -1,
	}
}

// NewSoftAtom creates a soft atom performing op on sem. Soft atoms carry the
// default priority; they are ordered only by submission.
func NewSoftAtom(conn *Connection, op SoftOp, sem *Semaphore) *Atom {
	a := NewAtom(conn, PriorityDefault)
	a.SoftOp = op
	a.Semaphore = sem
	return a
}

// IsSoft reports whether the atom is a soft atom.
func (a *Atom) IsSoft() bool {
	return a.SoftOp != SoftOpNone
}

// ConnectionID returns the ID of the owning connection, or "" if detached.
func (a *Atom) ConnectionID() string {
	if a.Conn == nil {
		return ""
	}
	return a.Conn.ID
}

// State returns the current lifecycle state.
func (a *Atom) State() AtomState {
	return a.state
}

// SetState moves the atom to next. Transition legality is the scheduler's
// business; this is a plain assignment.
func (a *Atom) SetState(next AtomState) {
	a.state = next
}

// Result returns the recorded completion code, if one has been set.
func (a *Atom) Result() (ResultCode, bool) {
	return a.result, a.resultSet
}

// SetResult records the completion code. Only the first call sticks; later
// calls report false and leave the original untouched, which is how late
// completions for already-terminated atoms are swallowed.
func (a *Atom) SetResult(r ResultCode) bool {
	if a.resultSet {
		return false
	}
	a.result = r
	a.resultSet = true
	return true
}

// SetDependency links a prerequisite atom. Must be called before enqueue.
func (a *Atom) SetDependency(dep *Atom) {
	a.dep = dep
}

// Dependency returns the unresolved prerequisite, or nil once it finished
// (or never existed).
func (a *Atom) Dependency() *Atom {
	return a.dep
}

// DependencyFinished reports whether the prerequisite, if any, has reached a
// result. The first call that observes completion saves the result and drops
// the reference, so a chain of atoms never pins completed ones in memory.
func (a *Atom) DependencyFinished() bool {
	if a.dep == nil {
		return true
	}
	r, ok := a.dep.Result()
	if !ok {
		return false
	}
	a.depResult = r
	a.depSaved = true
	a.dep = nil
	return true
}

// DependencyResult returns the saved result of the resolved prerequisite.
// Atoms without a dependency report success.
func (a *Atom) DependencyResult() ResultCode {
	if a.depSaved {
		return a.depResult
	}
	return ResultSuccess
}

// Slot returns the job slot the atom occupies, or -1.
func (a *Atom) Slot() int {
	return a.slot
}

// AssignSlot marks the atom as occupying slot.
func (a *Atom) AssignSlot(slot int) {
	a.slot = slot
}

// ClearSlot releases the atom's slot assignment.
func (a *Atom) ClearSlot() {
	a.slot = -1
}

// SoftStopRequested reports whether a soft stop is outstanding for the
// atom's current slot occupancy.
func (a *Atom) SoftStopRequested() bool {
	return a.softStopped
}

// MarkSoftStopped sets or clears the outstanding soft stop flag. The flag is
// cleared when the atom returns to the runnable queue so it can be stopped
// again on its next occupancy.
func (a *Atom) MarkSoftStopped(v bool) {
	a.softStopped = v
}

// HardStopRequested reports whether a hard stop has been issued.
func (a *Atom) HardStopRequested() bool {
	return a.hardStopped
}

// MarkHardStopped records that a hard stop was issued, so the timeout path
// does not issue a second one.
func (a *Atom) MarkHardStopped() {
	a.hardStopped = true
}

// OwnerGone reports whether the owning connection was cancelled while the
// atom was executing.
func (a *Atom) OwnerGone() bool {
	return a.ownerGone
}

// MarkOwnerGone tags the atom as belonging to a cancelled connection.
func (a *Atom) MarkOwnerGone() {
	a.ownerGone = true
}

// ExecutionStart returns when the atom was last dispatched to a slot.
func (a *Atom) ExecutionStart() time.Time {
	return a.execStart
}

// MarkExecutionStart records the dispatch time used for hang detection.
func (a *Atom) MarkExecutionStart(t time.Time) {
	a.execStart = t
}

// WaitStart returns when the atom was parked on its semaphore.
func (a *Atom) WaitStart() time.Time {
	return a.waitStart
}

// MarkWaitStart records the park time used for semaphore timeouts.
func (a *Atom) MarkWaitStart(t time.Time) {
	a.waitStart = t
}

// Snapshot captures the atom's externally visible state for status
// endpoints and traces.
func (a *Atom) Snapshot() AtomStatus {
	st := AtomStatus{
		ID:           a.ID,
		ConnectionID: a.ConnectionID(),
		Priority:     a.Priority,
		Protected:    a.Protected,
		SoftOp:       a.SoftOp,
		State:        a.state,
		Slot:         a.slot,
		GPUAddress:   a.GPUAddress,
		SubmittedAt:  a.SubmittedAt,
	}
	if a.resultSet {
		st.Result = a.result.String()
	}
	return st
}

// AtomStatus is the wire representation of an atom.
type AtomStatus struct {
	ID           uint64    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Priority     Priority  `json:"priority"`
	Protected    bool      `json:"protected,omitempty"`
	SoftOp       SoftOp    `json:"soft_op,omitempty"`
	State        AtomState `json:"state"`
	Slot         int       `json:"slot"`
	GPUAddress   uint64    `json:"gpu_address,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Result       string    `json:"result,omitempty"`
}
