package trace

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/atomsched/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	st := testStore(t)
	rec := NewRecorder(st, testLogger(), WithFlushInterval(10*time.Millisecond))
	t.Cleanup(rec.Close)

	for i := 0; i < 10; i++ {
		rec.Record(model.Event{Time: time.Now().UTC(), Kind: model.EventEnqueued, AtomID: uint64(i + 1), Slot: -1})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, total, err := st.ListEvents(context.Background(), model.DefaultListOptions())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored %d events, want 10", total)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := rec.Dropped(); n != 0 {
		t.Errorf("dropped = %d, want 0", n)
	}
}

func TestRecorderCloseFlushesRemainder(t *testing.T) {
	st := testStore(t)
	rec := NewRecorder(st, testLogger(), WithFlushInterval(time.Hour))

	for i := 0; i < 3; i++ {
		rec.Record(model.Event{Time: time.Now().UTC(), Kind: model.EventCompleted, AtomID: uint64(i + 1), Slot: 0})
	}
	rec.Close()

	_, total, err := st.ListEvents(context.Background(), model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Errorf("stored %d events, want 3", total)
	}

	// Records after Close are ignored, not a panic.
	rec.Record(model.Event{Kind: model.EventEnqueued, Slot: -1})
}

// gatedStore blocks writes until the gate opens, so a test can fill the
// recorder's buffer.
type gatedStore struct {
	Store
	gate chan struct{}
}

func (g *gatedStore) AppendEvents(ctx context.Context, events []model.Event) error {
	<-g.gate
	return g.Store.AppendEvents(ctx, events)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	st := testStore(t)
	gated := &gatedStore{Store: st, gate: make(chan struct{})}
	rec := NewRecorder(gated, testLogger(), WithBuffer(1), WithBatchSize(1), WithFlushInterval(time.Hour))

	// First event reaches the writer and blocks on the gate.
	rec.Record(model.Event{Kind: model.EventEnqueued, AtomID: 1, Slot: -1})
	time.Sleep(20 * time.Millisecond)

	// Second fills the buffer, third has nowhere to go.
	rec.Record(model.Event{Kind: model.EventEnqueued, AtomID: 2, Slot: -1})
	rec.Record(model.Event{Kind: model.EventEnqueued, AtomID: 3, Slot: -1})

	close(gated.gate)
	rec.Close()

	if n := rec.Dropped(); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
	_, total, err := st.ListEvents(context.Background(), model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Errorf("stored %d events, want 2", total)
	}
}
