package workload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/me/atomsched/pkg/model"
)

func testRunner() *Runner {
	return NewRunner(testLogger())
}

func runScenario(t *testing.T, sc *Scenario) *Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := testRunner().Run(ctx, sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rep
}

func outcomeByID(t *testing.T, rep *Report, id string) AtomOutcome {
	t.Helper()
	for _, out := range rep.Outcomes {
		if out.ID == id {
			return out
		}
	}
	t.Fatalf("no outcome for %q in %+v", id, rep.Outcomes)
	return AtomOutcome{}
}

func TestRun_PriorityAndDependencies(t *testing.T) {
	sc := &Scenario{
		Name:      "priority-deps",
		JobSlots:  1,
		JobTickMS: 5,
		Connections: []ConnectionSpec{
			{ID: "c1"},
		},
		Atoms: []AtomSpec{
			{ID: "low", Connection: "c1", Priority: "low", DurationMS: 5},
			{ID: "high", Connection: "c1", Priority: "high", DurationMS: 5},
			{ID: "child", Connection: "c1", DependsOn: "high", DurationMS: 5},
		},
	}
	rep := runScenario(t, sc)

	if rep.Atoms != 3 || rep.Completed != 3 {
		t.Fatalf("completed = %d of %d, want all 3", rep.Completed, rep.Atoms)
	}
	if rep.Failed != 0 || rep.Cancelled != 0 {
		t.Errorf("failed=%d cancelled=%d, want 0/0", rep.Failed, rep.Cancelled)
	}
	if rep.ByResult["SUCCESS"] != 3 {
		t.Errorf("ByResult = %v", rep.ByResult)
	}
	// The dependent cannot beat its parent, and the high-priority atom
	// beats the low one to the single slot.
	child := outcomeByID(t, rep, "child")
	high := outcomeByID(t, rep, "high")
	if child.Latency <= high.Latency {
		t.Errorf("child latency %s should exceed its dependency's %s", child.Latency, high.Latency)
	}
}

func TestRun_DependencyFailurePropagates(t *testing.T) {
	sc := &Scenario{
		Name:     "dep-failure",
		JobSlots: 2,
		Connections: []ConnectionSpec{
			{ID: "c1"},
		},
		Atoms: []AtomSpec{
			{ID: "parent", Connection: "c1", DurationMS: 5, Result: "JOB_FAULT"},
			{ID: "child", Connection: "c1", DependsOn: "parent"},
		},
	}
	rep := runScenario(t, sc)

	if rep.Failed != 2 {
		t.Fatalf("failed = %d, want 2 (parent and child)", rep.Failed)
	}
	if got := outcomeByID(t, rep, "child").Result; got != "JOB_FAULT" {
		t.Errorf("child result = %q, want inherited JOB_FAULT", got)
	}
}

func TestRun_CancelConnection(t *testing.T) {
	sc := &Scenario{
		Name:     "cancel",
		JobSlots: 1,
		Connections: []ConnectionSpec{
			{ID: "doomed"},
			{ID: "bystander"},
		},
		Atoms: []AtomSpec{
			{ID: "running", Connection: "doomed", DurationMS: 400},
			{ID: "queued", Connection: "doomed", DurationMS: 5},
			{ID: "after", Connection: "bystander", DurationMS: 5, SubmitAtMS: 5},
		},
		Cancels: []CancelSpec{
			{Connection: "doomed", AtMS: 30},
		},
	}
	start := time.Now()
	rep := runScenario(t, sc)

	if rep.Cancelled != 2 {
		t.Fatalf("cancelled = %d, want 2", rep.Cancelled)
	}
	if rep.Completed != 1 {
		t.Errorf("completed = %d, want the bystander atom", rep.Completed)
	}
	if rep.HardStops == 0 {
		t.Error("expected a hard stop for the executing atom")
	}
	for _, id := range []string{"running", "queued"} {
		if got := outcomeByID(t, rep, id).Result; got != "ATOM_TERMINATED" {
			t.Errorf("%s result = %q, want ATOM_TERMINATED", id, got)
		}
	}
	// The hard stop cuts the 400ms atom short.
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("replay took %s, cancellation should not wait out the atom", elapsed)
	}
}

func TestRun_SemaphoreSignalling(t *testing.T) {
	sc := &Scenario{
		Name:     "semaphores",
		JobSlots: 2,
		Connections: []ConnectionSpec{
			{ID: "c1"},
		},
		Semaphores: []SemaphoreSpec{
			{ID: "pending"},
			{ID: "ready", Signaled: true},
		},
		Atoms: []AtomSpec{
			{ID: "waits", Connection: "c1", SoftOp: "semaphore_wait", Semaphore: "pending"},
			{ID: "immediate", Connection: "c1", SoftOp: "semaphore_wait", Semaphore: "ready"},
			{ID: "setter", Connection: "c1", SoftOp: "semaphore_set", Semaphore: "ready"},
		},
		Signals: []SignalSpec{
			{Semaphore: "pending", AtMS: 40},
		},
	}
	rep := runScenario(t, sc)

	if rep.Completed != 3 {
		t.Fatalf("completed = %d, want 3, report:\n%s", rep.Completed, rep)
	}
	waits := outcomeByID(t, rep, "waits")
	if waits.Latency < 30*time.Millisecond {
		t.Errorf("waiter latency %s, want >= the 40ms signal delay", waits.Latency)
	}
}

func TestRun_GeneratedScenario(t *testing.T) {
	sc, err := testParser().Parse([]byte(`
name: burst
job_slots: 2
connections:
  - id: c1
  - id: c2
params:
  count: 6
script: |
  var out = [];
  for (var i = 0; i < params.count; i++) {
    out.push({
      id: "atom" + i,
      connection: connections[i % 2],
      duration_ms: 3,
      submit_at_ms: i * 5,
    });
  }
  return out;
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rep := runScenario(t, sc)

	if rep.Atoms != 6 || rep.Completed != 6 {
		t.Fatalf("completed = %d of %d, want 6", rep.Completed, rep.Atoms)
	}
	text := rep.String()
	if !strings.Contains(text, `scenario "burst"`) || !strings.Contains(text, "6 completed") {
		t.Errorf("report rendering missing counts:\n%s", text)
	}
}

func TestRun_InvalidScenario(t *testing.T) {
	ctx := context.Background()
	_, err := testRunner().Run(ctx, &Scenario{Name: "empty"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *model.APIError", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	sc := &Scenario{
		Name:        "slow",
		Connections: []ConnectionSpec{{ID: "c1"}},
		Atoms: []AtomSpec{
			{ID: "a1", Connection: "c1", DurationMS: 500},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := testRunner().Run(ctx, sc)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
