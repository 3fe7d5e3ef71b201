package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/atomsched/pkg/model"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(prometheus.NewRegistry())
}

func TestNewCollectorRegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NotNil(t, c)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"atomsched_atoms_enqueued_total",
		"atomsched_atoms_completed_total",
		"atomsched_atoms_failed_total",
		"atomsched_dispatch_latency_seconds",
		"atomsched_turnaround_seconds",
		"atomsched_gpu_active",
		"atomsched_protected_mode",
	} {
		assert.True(t, names[want], "metric %s not registered", want)
	}
}

func TestNewCollectorDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	// A process gets one collector per registry.
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestRecordCountsByKind(t *testing.T) {
	c := newTestCollector(t)

	events := []model.Event{
		{Kind: model.EventEnqueued},
		{Kind: model.EventEnqueued},
		{Kind: model.EventDispatched, Latency: 5 * time.Millisecond},
		{Kind: model.EventCompleted, Latency: 20 * time.Millisecond},
		{Kind: model.EventFailed},
		{Kind: model.EventDependencyFailed},
		{Kind: model.EventCancelled},
		{Kind: model.EventTimedOut},
		{Kind: model.EventSoftStopRequested},
		{Kind: model.EventHardStopRequested},
		{Kind: model.EventModeSwitch},
		{Kind: model.EventModeSwitchFailed},
	}
	for _, ev := range events {
		c.Record(ev)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.atomsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.atomsCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.atomsFailed), "failed and dependency_failed both count")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.atomsCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gpuHangs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.softStops))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hardStops))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modeSwitches))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modeSwitchFailures))
}

func TestRecordPowerEvents(t *testing.T) {
	c := newTestCollector(t)

	c.Record(model.Event{Kind: model.EventPower, Detail: "active"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gpuActive))

	c.Record(model.Event{Kind: model.EventPower, Detail: "idle"})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.gpuActive))
}

func TestRecordUnknownKindIgnored(t *testing.T) {
	c := newTestCollector(t)

	assert.NotPanics(t, func() {
		c.Record(model.Event{Kind: model.EventKind("something_new")})
	})
}

func TestUpdateQueueStats(t *testing.T) {
	c := newTestCollector(t)

	c.UpdateQueueStats(model.SchedulerStatus{
		Queued: 3,
		Runnable: map[model.Priority]int{
			model.PriorityLow:     1,
			model.PriorityDefault: 4,
			model.PriorityHigh:    0,
			model.PriorityHigher:  2,
		},
		Waiting:       1,
		Executing:     2,
		GpuActive:     true,
		ProtectedMode: true,
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.atomsQueued))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.atomsRunnable.WithLabelValues(string(model.PriorityDefault))))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.atomsRunnable.WithLabelValues(string(model.PriorityHigher))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.atomsWaiting))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.atomsExecuting))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gpuActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.protectedMode))

	// Draining everything drops the gauges back to zero.
	c.UpdateQueueStats(model.SchedulerStatus{Runnable: map[model.Priority]int{}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.atomsQueued))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.atomsRunnable.WithLabelValues(string(model.PriorityDefault))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.gpuActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.protectedMode))
}

func TestDispatchLatencyObserved(t *testing.T) {
	c := newTestCollector(t)

	for _, lat := range []time.Duration{time.Millisecond, 10 * time.Millisecond, 100 * time.Millisecond} {
		c.Record(model.Event{Kind: model.EventDispatched, Latency: lat})
	}

	count := testutil.CollectAndCount(c.dispatchLatency)
	assert.Equal(t, 1, count, "one histogram family collected")
}
