package trace

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/atomsched/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleEvents() []model.Event {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return []model.Event{
		{Time: base, Kind: model.EventEnqueued, AtomID: 1, ConnectionID: "conn-a", Slot: -1, Priority: model.PriorityDefault},
		{Time: base.Add(time.Millisecond), Kind: model.EventRunnable, AtomID: 1, ConnectionID: "conn-a", Slot: -1, Priority: model.PriorityDefault},
		{Time: base.Add(2 * time.Millisecond), Kind: model.EventDispatched, AtomID: 1, ConnectionID: "conn-a", Slot: 0, Priority: model.PriorityDefault, Latency: 2 * time.Millisecond},
		{Time: base.Add(3 * time.Millisecond), Kind: model.EventEnqueued, AtomID: 2, ConnectionID: "conn-b", Slot: -1, Priority: model.PriorityHigh},
		{Time: base.Add(8 * time.Millisecond), Kind: model.EventCompleted, AtomID: 1, ConnectionID: "conn-a", Slot: 0, Priority: model.PriorityDefault, Result: "SUCCESS", Latency: 8 * time.Millisecond},
	}
}

func TestAppendAndListEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.AppendEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, total, err := st.ListEvents(ctx, model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(events) != 5 {
		t.Fatalf("len = %d, want 5", len(events))
	}

	// Insertion order is preserved.
	if events[0].Kind != model.EventEnqueued || events[4].Kind != model.EventCompleted {
		t.Errorf("order wrong: first %s last %s", events[0].Kind, events[4].Kind)
	}

	got := events[4]
	want := sampleEvents()[4]
	if !got.Time.Equal(want.Time) {
		t.Errorf("time = %v, want %v", got.Time, want.Time)
	}
	if got.AtomID != 1 || got.ConnectionID != "conn-a" || got.Slot != 0 {
		t.Errorf("identity fields = %+v", got)
	}
	if got.Result != "SUCCESS" {
		t.Errorf("result = %q, want SUCCESS", got.Result)
	}
	if got.Latency != 8*time.Millisecond {
		t.Errorf("latency = %v, want 8ms", got.Latency)
	}
	if got.Priority != model.PriorityDefault {
		t.Errorf("priority = %q, want default", got.Priority)
	}
}

func TestAppendEventsEmptyBatch(t *testing.T) {
	st := testStore(t)
	if err := st.AppendEvents(context.Background(), nil); err != nil {
		t.Fatalf("append empty: %v", err)
	}
}

func TestListEventsFilters(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.AppendEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name string
		opts model.ListOptions
		want int
	}{
		{"by kind", model.ListOptions{Kind: "enqueued"}, 2},
		{"by atom", model.ListOptions{AtomID: 1}, 4},
		{"by connection", model.ListOptions{ConnectionID: "conn-b"}, 1},
		{"kind and atom", model.ListOptions{Kind: "enqueued", AtomID: 2}, 1},
		{"no match", model.ListOptions{ConnectionID: "conn-c"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, total, err := st.ListEvents(ctx, tt.opts)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.want || len(events) != tt.want {
				t.Errorf("total = %d len = %d, want %d", total, len(events), tt.want)
			}
		})
	}
}

func TestListEventsPagination(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.AppendEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, total, err := st.ListEvents(ctx, model.ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Kind != model.EventDispatched {
		t.Errorf("window start = %s, want dispatched", events[0].Kind)
	}
}

func TestSummarize(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.AppendEvents(ctx, sampleEvents()); err != nil {
		t.Fatalf("append: %v", err)
	}

	counts, err := st.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if counts[model.EventEnqueued] != 2 {
		t.Errorf("enqueued = %d, want 2", counts[model.EventEnqueued])
	}
	if counts[model.EventCompleted] != 1 {
		t.Errorf("completed = %d, want 1", counts[model.EventCompleted])
	}
}

func TestMigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
