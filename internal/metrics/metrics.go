// Package metrics exposes scheduler counters, latencies and queue gauges in
// Prometheus format. The Collector doubles as an event sink: counters follow
// the trace stream, gauges are refreshed from status snapshots on the job
// tick.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/atomsched/pkg/model"
)

// Collector holds all scheduler metrics.
type Collector struct {
	atomsEnqueued      prometheus.Counter
	atomsCompleted     prometheus.Counter
	atomsFailed        prometheus.Counter
	atomsCancelled     prometheus.Counter
	softStops          prometheus.Counter
	hardStops          prometheus.Counter
	gpuHangs           prometheus.Counter
	modeSwitches       prometheus.Counter
	modeSwitchFailures prometheus.Counter

	dispatchLatency prometheus.Histogram
	turnaround      prometheus.Histogram

	atomsQueued    prometheus.Gauge
	atomsRunnable  *prometheus.GaugeVec
	atomsWaiting   prometheus.Gauge
	atomsExecuting prometheus.Gauge
	gpuActive      prometheus.Gauge
	protectedMode  prometheus.Gauge
}

// NewCollector creates and registers all metrics. A nil reg registers on the
// default registry; tests pass their own.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		atomsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_atoms_enqueued_total",
			Help: "Total number of atoms accepted into the scheduler",
		}),
		atomsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_atoms_completed_total",
			Help: "Total number of atoms completed successfully",
		}),
		atomsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_atoms_failed_total",
			Help: "Total number of atoms finished with a failure result",
		}),
		atomsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_atoms_cancelled_total",
			Help: "Total number of atoms withdrawn by connection cancellation",
		}),
		softStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_soft_stops_total",
			Help: "Total number of soft stop requests issued for preemption",
		}),
		hardStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_hard_stops_total",
			Help: "Total number of hard stop requests issued",
		}),
		gpuHangs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_gpu_hangs_total",
			Help: "Total number of atoms hard stopped by the execution watchdog",
		}),
		modeSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_mode_switches_total",
			Help: "Total number of protected mode switch requests",
		}),
		modeSwitchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atomsched_mode_switch_failures_total",
			Help: "Total number of failed protected mode exits",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atomsched_dispatch_latency_seconds",
			Help:    "Time from submission to first dispatch",
			Buckets: prometheus.DefBuckets,
		}),
		turnaround: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atomsched_turnaround_seconds",
			Help:    "Time from submission to successful completion",
			Buckets: prometheus.DefBuckets,
		}),
		atomsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atomsched_atoms_queued",
			Help: "Current number of atoms waiting on dependencies",
		}),
		atomsRunnable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atomsched_atoms_runnable",
			Help: "Current number of runnable atoms per priority",
		}, []string{"priority"}),
		atomsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atomsched_atoms_waiting",
			Help: "Current number of soft atoms parked on semaphores",
		}),
		atomsExecuting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atomsched_atoms_executing",
			Help: "Current number of atoms occupying job slots",
		}),
		gpuActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atomsched_gpu_active",
			Help: "Whether any slot is occupied (1) or the GPU is idle (0)",
		}),
		protectedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atomsched_protected_mode",
			Help: "Whether the device is in protected mode (1) or not (0)",
		}),
	}

	reg.MustRegister(
		c.atomsEnqueued,
		c.atomsCompleted,
		c.atomsFailed,
		c.atomsCancelled,
		c.softStops,
		c.hardStops,
		c.gpuHangs,
		c.modeSwitches,
		c.modeSwitchFailures,
		c.dispatchLatency,
		c.turnaround,
		c.atomsQueued,
		c.atomsRunnable,
		c.atomsWaiting,
		c.atomsExecuting,
		c.gpuActive,
		c.protectedMode,
	)
	return c
}

// Record implements scheduler.EventSink. Unknown kinds are ignored so the
// collector never has to change in lockstep with the trace stream.
func (c *Collector) Record(ev model.Event) {
	switch ev.Kind {
	case model.EventEnqueued:
		c.atomsEnqueued.Inc()
	case model.EventDispatched:
		c.dispatchLatency.Observe(ev.Latency.Seconds())
	case model.EventCompleted:
		c.atomsCompleted.Inc()
		c.turnaround.Observe(ev.Latency.Seconds())
	case model.EventFailed, model.EventDependencyFailed:
		c.atomsFailed.Inc()
	case model.EventCancelled:
		c.atomsCancelled.Inc()
	case model.EventTimedOut:
		c.gpuHangs.Inc()
	case model.EventSoftStopRequested:
		c.softStops.Inc()
	case model.EventHardStopRequested:
		c.hardStops.Inc()
	case model.EventModeSwitch:
		c.modeSwitches.Inc()
	case model.EventModeSwitchFailed:
		c.modeSwitchFailures.Inc()
	case model.EventPower:
		if ev.Detail == "active" {
			c.gpuActive.Set(1)
		} else {
			c.gpuActive.Set(0)
		}
	}
}

// UpdateQueueStats refreshes the queue gauges from a status snapshot.
func (c *Collector) UpdateQueueStats(st model.SchedulerStatus) {
	c.atomsQueued.Set(float64(st.Queued))
	for _, p := range model.AllPriorities {
		c.atomsRunnable.WithLabelValues(string(p)).Set(float64(st.Runnable[p]))
	}
	c.atomsWaiting.Set(float64(st.Waiting))
	c.atomsExecuting.Set(float64(st.Executing))
	if st.GpuActive {
		c.gpuActive.Set(1)
	} else {
		c.gpuActive.Set(0)
	}
	if st.ProtectedMode {
		c.protectedMode.Set(1)
	} else {
		c.protectedMode.Set(0)
	}
}
