package model

// AtomState represents the lifecycle state of an Atom.
type AtomState string

const (
	AtomStateQueued    AtomState = "QUEUED"
	AtomStateWaiting   AtomState = "WAITING"
	AtomStateRunnable  AtomState = "RUNNABLE"
	AtomStateExecuting AtomState = "EXECUTING"
	AtomStateCompleted AtomState = "COMPLETED"
)

// String returns the string representation of the atom state.
func (s AtomState) String() string {
	return string(s)
}

// IsTerminal returns true if the atom is in a final state.
func (s AtomState) IsTerminal() bool {
	return s == AtomStateCompleted
}

// ValidAtomTransitions defines the allowed state transitions for Atoms.
// EXECUTING -> RUNNABLE covers soft-stopped atoms returning to the head of
// their priority queue; every state may complete directly because dependency
// failures, cancellation and timeouts finish atoms out of band.
var ValidAtomTransitions = map[AtomState][]AtomState{
	AtomStateQueued:    {AtomStateRunnable, AtomStateWaiting, AtomStateCompleted},
	AtomStateWaiting:   {AtomStateCompleted},
	AtomStateRunnable:  {AtomStateExecuting, AtomStateCompleted},
	AtomStateExecuting: {AtomStateRunnable, AtomStateCompleted},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s AtomState) CanTransitionTo(next AtomState) bool {
	for _, allowed := range ValidAtomTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Priority ranks atoms competing for job slots. Dispatch always prefers the
// highest priority with runnable atoms, FIFO within a level.
type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityHigher  Priority = "higher"
)

// NumPriorities is the number of distinct priority levels.
const NumPriorities = 4

// AllPriorities lists the priority levels from lowest to highest.
var AllPriorities = [NumPriorities]Priority{PriorityLow, PriorityDefault, PriorityHigh, PriorityHigher}

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// Valid returns true if p is one of the defined priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityDefault, PriorityHigh, PriorityHigher:
		return true
	}
	return false
}

// Index returns the rank of the priority, 0 (low) through 3 (higher).
// Unknown values rank as default.
func (p Priority) Index() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityHigher:
		return 3
	default:
		return 1
	}
}

// Above reports whether p strictly outranks other.
func (p Priority) Above(other Priority) bool {
	return p.Index() > other.Index()
}

// ParsePriority converts a string to a Priority. The empty string maps to
// PriorityDefault so omitted fields pick up the default level.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityDefault, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", NewValidationError("invalid priority", FieldError{
			Field:   "priority",
			Message: "must be one of: low, default, high, higher",
		})
	}
	return p, nil
}

// SoftOp identifies the semaphore operation a soft atom performs. Soft atoms
// never occupy a job slot; set and reset complete immediately while the wait
// variants park the atom until its semaphore is signaled.
type SoftOp string

const (
	SoftOpNone                  SoftOp = ""
	SoftOpSemaphoreSet          SoftOp = "semaphore_set"
	SoftOpSemaphoreReset        SoftOp = "semaphore_reset"
	SoftOpSemaphoreWait         SoftOp = "semaphore_wait"
	SoftOpSemaphoreWaitAndReset SoftOp = "semaphore_wait_and_reset"
)

// String returns the string representation of the soft operation.
func (o SoftOp) String() string {
	return string(o)
}

// Valid returns true if o is a defined soft operation (including SoftOpNone).
func (o SoftOp) Valid() bool {
	switch o {
	case SoftOpNone, SoftOpSemaphoreSet, SoftOpSemaphoreReset,
		SoftOpSemaphoreWait, SoftOpSemaphoreWaitAndReset:
		return true
	}
	return false
}

// IsWait reports whether the operation parks the atom until a signal arrives.
func (o SoftOp) IsWait() bool {
	return o == SoftOpSemaphoreWait || o == SoftOpSemaphoreWaitAndReset
}
