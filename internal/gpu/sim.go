// Package gpu provides a simulated device implementing scheduler.Owner.
// Atoms execute on wall-clock timers according to per-atom profiles, so the
// scheduler above it behaves exactly as it would over real hardware:
// completions arrive asynchronously, soft stops deliver a resume address,
// hard stops terminate, and hung atoms sit on their slot until stopped.
package gpu

import (
	"log/slog"
	"sync"
	"time"

	"github.com/me/atomsched/internal/scheduler"
	"github.com/me/atomsched/pkg/model"
)

// DefaultDuration is the simulated execution time for atoms without a
// registered profile.
const DefaultDuration = 20 * time.Millisecond

// Profile describes how the device executes one atom.
type Profile struct {
	// Duration is the simulated execution time. Zero means DefaultDuration.
	Duration time.Duration
	// Result is reported on natural completion. Zero means SUCCESS.
	Result model.ResultCode
	// Hang leaves the atom on its slot forever; only a hard stop frees it.
	Hang bool
}

// execution tracks one atom's progress on the device. consumed accumulates
// across soft stops so a resumed atom only runs its remaining time.
type execution struct {
	slot     int
	base     uint64 // first-run GPU address, tail offsets count from here
	started  time.Time
	consumed time.Duration
	timer    *time.Timer
	hung     bool
	pending  bool // a completion has been posted but not yet landed
}

// SimDevice is the simulated GPU. The scheduler calls its Owner methods on
// the dispatch goroutine; completion timers fire on their own goroutines and
// post back through the bound dispatch loop, like a real interrupt handler
// would. Profiles may be registered from any goroutine, everything else is
// dispatch-confined.
type SimDevice struct {
	logger *slog.Logger
	port   *scheduler.Port

	post     func(fn func())
	complete func(slot int, result model.ResultCode, tail uint64)

	mu             sync.RWMutex
	profiles       map[uint64]Profile
	defaultProfile Profile

	execs        map[uint64]*execution
	protected    bool
	exitFailures int
}

// Option configures a SimDevice.
type Option func(*SimDevice)

// WithLogger sets the device logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *SimDevice) {
		if logger != nil {
			d.logger = logger.With("component", "gpu")
		}
	}
}

// WithPortBuffer sets the platform port's packet buffer.
func WithPortBuffer(n int) Option {
	return func(d *SimDevice) {
		d.port = scheduler.NewPort(n)
	}
}

// WithDefaultProfile sets the profile used for atoms without a registered
// one.
func WithDefaultProfile(p Profile) Option {
	return func(d *SimDevice) {
		d.defaultProfile = p
	}
}

// WithExitFailures makes the first n protected-mode exits fail, exercising
// the scheduler's retry path.
func WithExitFailures(n int) Option {
	return func(d *SimDevice) {
		d.exitFailures = n
	}
}

// NewSimDevice creates a simulated device. Bind must be called before any
// atom is dispatched.
func NewSimDevice(opts ...Option) *SimDevice {
	d := &SimDevice{
		logger:         slog.Default().With("component", "gpu"),
		port:           scheduler.NewPort(0),
		profiles:       make(map[uint64]Profile),
		defaultProfile: Profile{Duration: DefaultDuration},
		execs:          make(map[uint64]*execution),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind connects the device to the dispatch loop: post queues a closure on
// the dispatch goroutine, complete is the scheduler's JobCompleted.
func (d *SimDevice) Bind(post func(fn func()), complete func(slot int, result model.ResultCode, tail uint64)) {
	d.post = post
	d.complete = complete
}

// SetProfile registers how the device will execute the given atom. Safe to
// call from any goroutine, but must happen before the atom is submitted.
func (d *SimDevice) SetProfile(atomID uint64, p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[atomID] = p
}

func (d *SimDevice) profileFor(atomID uint64) Profile {
	d.mu.RLock()
	p, ok := d.profiles[atomID]
	d.mu.RUnlock()
	if !ok {
		p = d.defaultProfile
	}
	if p.Duration <= 0 {
		p.Duration = DefaultDuration
	}
	if p.Result == 0 {
		p.Result = model.ResultSuccess
	}
	return p
}

// RunAtom starts or resumes an atom on the slot the scheduler assigned.
func (d *SimDevice) RunAtom(atom *model.Atom) {
	if atom.Protected != d.protected {
		d.logger.Error("mode mismatch on dispatch",
			"atom", atom.ID,
			"atom_protected", atom.Protected,
			"device_protected", d.protected)
	}
	prof := d.profileFor(atom.ID)
	ex := d.execs[atom.ID]
	if ex == nil {
		ex = &execution{base: atom.GPUAddress}
		d.execs[atom.ID] = ex
	}
	ex.slot = atom.Slot()
	ex.started = time.Now()
	ex.pending = false
	ex.hung = prof.Hang
	if prof.Hang {
		d.logger.Debug("atom running, will hang", "atom", atom.ID, "slot", ex.slot)
		return
	}
	remaining := prof.Duration - ex.consumed
	if remaining < 0 {
		remaining = 0
	}
	d.logger.Debug("atom running",
		"atom", atom.ID,
		"slot", ex.slot,
		"remaining", remaining)
	id := atom.ID
	result := prof.Result
	ex.timer = time.AfterFunc(remaining, func() {
		d.post(func() { d.finish(id, result) })
	})
}

// finish delivers an atom's natural completion. Runs on the dispatch
// goroutine; the record may already be gone if a stop won the race.
func (d *SimDevice) finish(atomID uint64, result model.ResultCode) {
	ex := d.execs[atomID]
	if ex == nil || ex.pending {
		return
	}
	delete(d.execs, atomID)
	d.complete(ex.slot, result, 0)
}

// SoftStopAtom stops the atom at the next job boundary and reports a
// SOFT_STOPPED completion carrying the resume address. A hung atom ignores
// the request; an atom whose completion is already in flight is left alone.
func (d *SimDevice) SoftStopAtom(atom *model.Atom) {
	ex := d.execs[atom.ID]
	if ex == nil || ex.pending {
		return
	}
	if ex.hung {
		d.logger.Debug("soft stop ignored by hung atom", "atom", atom.ID)
		return
	}
	if ex.timer != nil && !ex.timer.Stop() {
		return
	}
	ex.timer = nil
	ex.consumed += time.Since(ex.started)
	ex.pending = true
	tail := ex.base + uint64(ex.consumed/time.Microsecond)
	slot := ex.slot
	d.logger.Debug("atom soft stopping",
		"atom", atom.ID,
		"slot", slot,
		"consumed", ex.consumed)
	d.post(func() { d.complete(slot, model.ResultSoftStopped, tail) })
}

// HardStopAtom terminates the atom immediately. The execution record is
// discarded, so a hard-stopped atom never resumes.
func (d *SimDevice) HardStopAtom(atom *model.Atom) {
	ex := d.execs[atom.ID]
	if ex == nil {
		return
	}
	if ex.timer != nil && !ex.timer.Stop() {
		return
	}
	delete(d.execs, atom.ID)
	if ex.pending {
		return
	}
	slot := ex.slot
	d.logger.Debug("atom hard stopped", "atom", atom.ID, "slot", slot)
	d.post(func() { d.complete(slot, model.ResultAtomTerminated, 0) })
}

// AtomCompleted receives final results. The simulator has no client rings
// to write to, so this only logs; the trace store sees completions through
// the event sink.
func (d *SimDevice) AtomCompleted(atom *model.Atom, result model.ResultCode) {
	d.logger.Debug("atom completed",
		"atom", atom.ID,
		"connection", atom.ConnectionID(),
		"result", result.String())
	d.dropProfile(atom.ID)
}

// ReleaseMappingsForAtom drops the simulator's state for an atom retired
// without notification.
func (d *SimDevice) ReleaseMappingsForAtom(atom *model.Atom) {
	d.logger.Debug("mappings released", "atom", atom.ID)
	d.dropProfile(atom.ID)
}

func (d *SimDevice) dropProfile(atomID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, atomID)
}

// GetPlatformPort returns the port semaphore signals arrive through.
func (d *SimDevice) GetPlatformPort() *scheduler.Port {
	return d.port
}

// UpdateGpuActive is the power-state notification.
func (d *SimDevice) UpdateGpuActive(active bool) {
	d.logger.Debug("gpu power state", "active", active)
}

// IsInProtectedMode reports the device's current mode.
func (d *SimDevice) IsInProtectedMode() bool {
	return d.protected
}

// EnterProtectedMode switches into protected mode. Entry cannot fail.
func (d *SimDevice) EnterProtectedMode() {
	d.protected = true
	d.logger.Info("entered protected mode")
}

// ExitProtectedMode switches back to normal mode. It fails as many times as
// WithExitFailures configured, then succeeds.
func (d *SimDevice) ExitProtectedMode() bool {
	if d.exitFailures > 0 {
		d.exitFailures--
		d.logger.Warn("protected mode exit failed", "retries_left", d.exitFailures)
		return false
	}
	d.protected = false
	d.logger.Info("exited protected mode")
	return true
}

// OutputHangMessage dumps what the device knows about its occupied slots.
func (d *SimDevice) OutputHangMessage() {
	for id, ex := range d.execs {
		d.logger.Warn("gpu hang",
			"atom", id,
			"slot", ex.slot,
			"hung", ex.hung,
			"consumed", ex.consumed,
			"running_for", time.Since(ex.started))
	}
}
