package model

import "time"

// EventKind classifies scheduler trace events.
type EventKind string

const (
	EventEnqueued          EventKind = "enqueued"
	EventRunnable          EventKind = "runnable"
	EventWaiting           EventKind = "waiting"
	EventDispatched        EventKind = "dispatched"
	EventSoftStopRequested EventKind = "soft_stop_requested"
	EventSoftStopped       EventKind = "soft_stopped"
	EventHardStopRequested EventKind = "hard_stop_requested"
	EventCompleted         EventKind = "completed"
	EventFailed            EventKind = "failed"
	EventDependencyFailed  EventKind = "dependency_failed"
	EventTimedOut          EventKind = "timed_out"
	EventCancelled         EventKind = "cancelled"
	EventOwnerGone         EventKind = "owner_gone"
	EventModeSwitch        EventKind = "mode_switch"
	EventModeSwitchFailed  EventKind = "mode_switch_failed"
	EventPower             EventKind = "power"
)

// Event is one entry in the scheduler's trace stream. Slot is -1 for events
// not tied to a job slot. Latency is filled on dispatched and terminal
// events and measures from submission.
type Event struct {
	Time         time.Time     `json:"time"`
	Kind         EventKind     `json:"kind"`
	AtomID       uint64        `json:"atom_id,omitempty"`
	ConnectionID string        `json:"connection_id,omitempty"`
	Slot         int           `json:"slot"`
	Priority     Priority      `json:"priority,omitempty"`
	Result       string        `json:"result,omitempty"`
	Latency      time.Duration `json:"latency_ns,omitempty"`
	Detail       string        `json:"detail,omitempty"`
}
