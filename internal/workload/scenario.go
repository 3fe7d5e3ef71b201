// Package workload defines the YAML scenario format for the simulator and
// the machinery to parse, validate, generate and replay scenarios against a
// scheduler with a simulated device.
package workload

import "time"

// Scenario is a replayable workload description. Handles (connection,
// semaphore and atom IDs) are scenario-local names; the runner mints real
// identifiers when it builds the objects.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Scheduler configuration. Zero values use the scheduler defaults.
	JobSlots           int `yaml:"job_slots,omitempty"`
	JobTickMS          int `yaml:"job_tick_ms,omitempty"`
	TimeoutMS          int `yaml:"timeout_ms,omitempty"`
	SemaphoreTimeoutMS int `yaml:"semaphore_timeout_ms,omitempty"`
	DefaultDurationMS  int `yaml:"default_duration_ms,omitempty"`

	Connections []ConnectionSpec `yaml:"connections"`
	Semaphores  []SemaphoreSpec  `yaml:"semaphores,omitempty"`
	Atoms       []AtomSpec       `yaml:"atoms,omitempty"`
	Signals     []SignalSpec     `yaml:"signals,omitempty"`
	Cancels     []CancelSpec     `yaml:"cancels,omitempty"`

	// Params are exposed to the generator script as a JavaScript object.
	Params map[string]any `yaml:"params,omitempty"`

	// Script is a JavaScript generator returning extra atom specs. It runs
	// once at parse time, after the static atoms are read.
	Script string `yaml:"script,omitempty"`
}

// ConnectionSpec declares one client connection.
type ConnectionSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// SemaphoreSpec declares one platform semaphore, optionally pre-signaled.
type SemaphoreSpec struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Signaled bool   `yaml:"signaled,omitempty"`
}

// AtomSpec declares one atom and how the simulated device executes it.
type AtomSpec struct {
	ID         string `yaml:"id"`
	Connection string `yaml:"connection"`
	Priority   string `yaml:"priority,omitempty"`
	SubmitAtMS int    `yaml:"submit_at_ms,omitempty"`
	DependsOn  string `yaml:"depends_on,omitempty"`
	Protected  bool   `yaml:"protected,omitempty"`
	GPUAddress uint64 `yaml:"gpu_address,omitempty"`

	// Hard atom execution profile.
	DurationMS int    `yaml:"duration_ms,omitempty"`
	Result     string `yaml:"result,omitempty"`
	Hang       bool   `yaml:"hang,omitempty"`

	// Soft atom fields. A non-empty SoftOp makes the atom soft.
	SoftOp    string `yaml:"soft_op,omitempty"`
	Semaphore string `yaml:"semaphore,omitempty"`
}

// IsSoft reports whether the spec declares a soft atom.
func (a AtomSpec) IsSoft() bool {
	return a.SoftOp != ""
}

// SubmitAt returns the submission offset as a duration.
func (a AtomSpec) SubmitAt() time.Duration {
	return time.Duration(a.SubmitAtMS) * time.Millisecond
}

// SignalSpec signals (or resets) a semaphore at an offset into the replay.
type SignalSpec struct {
	Semaphore string `yaml:"semaphore"`
	AtMS      int    `yaml:"at_ms"`
	Reset     bool   `yaml:"reset,omitempty"`
}

// CancelSpec cancels a connection at an offset into the replay.
type CancelSpec struct {
	Connection string `yaml:"connection"`
	AtMS       int    `yaml:"at_ms"`
}
