package model

import "time"

// SlotStatus describes one job slot in a status snapshot.
type SlotStatus struct {
	Slot            int           `json:"slot"`
	AtomID          uint64        `json:"atom_id,omitempty"`
	ConnectionID    string        `json:"connection_id,omitempty"`
	Priority        Priority      `json:"priority,omitempty"`
	Protected       bool          `json:"protected,omitempty"`
	RunningFor      time.Duration `json:"running_for_ns,omitempty"`
	SoftStopPending bool          `json:"soft_stop_pending,omitempty"`
}

// SchedulerStatus is a point-in-time snapshot of the scheduler's queues and
// mode, taken on the dispatch goroutine so the counts are consistent.
type SchedulerStatus struct {
	JobSlots         int              `json:"job_slots"`
	Tracked          int              `json:"tracked"`
	Queued           int              `json:"queued"`
	Runnable         map[Priority]int `json:"runnable"`
	Waiting          int              `json:"waiting"`
	Executing        int              `json:"executing"`
	Slots            []SlotStatus     `json:"slots"`
	ProtectedMode    bool             `json:"protected_mode"`
	PendingSwitch    string           `json:"pending_switch,omitempty"`
	GpuActive        bool             `json:"gpu_active"`
	Timeout          time.Duration    `json:"timeout_ns"`
	SemaphoreTimeout time.Duration    `json:"semaphore_timeout_ns"`
	JobTick          time.Duration    `json:"job_tick_ns"`
	Atoms            []AtomStatus     `json:"atoms,omitempty"`
}

// RunnableTotal sums runnable counts across all priorities.
func (s SchedulerStatus) RunnableTotal() int {
	total := 0
	for _, n := range s.Runnable {
		total += n
	}
	return total
}
