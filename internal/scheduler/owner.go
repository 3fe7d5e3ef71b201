package scheduler

import "github.com/me/atomsched/pkg/model"

// Owner is the device side of the scheduler: the scheduler decides which
// atom occupies which slot, the owner makes the hardware do it. Every method
// is called from the dispatch goroutine, never concurrently.
//
// RunAtom starts an atom on the slot recorded in atom.Slot(). The owner
// reports the outcome later through JobCompleted on the dispatch goroutine.
//
// SoftStopAtom asks the hardware to stop the atom at the next job boundary;
// the slot reports a SOFT_STOPPED completion with the resume address.
// HardStopAtom terminates the atom immediately, completing ATOM_TERMINATED.
//
// AtomCompleted delivers an atom's final result to the client side. It is
// not called for atoms whose connection was cancelled.
//
// ReleaseMappingsForAtom tears down the atom's address space references. It
// replaces AtomCompleted for atoms retired without notification, and runs
// alongside the hard stop when a connection's executing atoms are released.
//
// GetPlatformPort returns the port semaphore signals are delivered through.
//
// UpdateGpuActive fires on idle-to-busy and busy-to-idle transitions so the
// power manager can clock the GPU up or down.
//
// EnterProtectedMode and ExitProtectedMode switch the device once the
// scheduler has drained the slots. Exit can fail; the scheduler retries on
// later passes. IsInProtectedMode reports the current mode.
//
// OutputHangMessage emits the device's hang diagnostics for a timed-out
// atom.
type Owner interface {
	RunAtom(atom *model.Atom)
	SoftStopAtom(atom *model.Atom)
	HardStopAtom(atom *model.Atom)
	AtomCompleted(atom *model.Atom, result model.ResultCode)
	ReleaseMappingsForAtom(atom *model.Atom)
	GetPlatformPort() *Port
	UpdateGpuActive(active bool)
	IsInProtectedMode() bool
	EnterProtectedMode()
	ExitProtectedMode() bool
	OutputHangMessage()
}
