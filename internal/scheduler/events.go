package scheduler

import "github.com/me/atomsched/pkg/model"

// EventSink receives the scheduler's trace stream. Record is called on the
// dispatch goroutine and must not block; sinks that persist events should
// buffer internally.
type EventSink interface {
	Record(ev model.Event)
}

type nopSink struct{}

func (nopSink) Record(model.Event) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

// Record delivers ev to every sink.
func (m MultiSink) Record(ev model.Event) {
	for _, s := range m {
		s.Record(ev)
	}
}
