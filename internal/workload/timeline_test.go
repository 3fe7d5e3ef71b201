package workload

import (
	"testing"
	"time"
)

func TestTimeline_PopsEarliestFirst(t *testing.T) {
	tl := newTimeline[time.Duration, string]()
	tl.push("third", 30*time.Millisecond)
	tl.push("first", 10*time.Millisecond)
	tl.push("second", 20*time.Millisecond)

	want := []string{"first", "second", "third"}
	for i, w := range want {
		v, key, ok := tl.pop()
		if !ok {
			t.Fatalf("pop %d: empty", i)
		}
		if v != w {
			t.Errorf("pop %d = %q at %s, want %q", i, v, key, w)
		}
	}
	if tl.len() != 0 {
		t.Errorf("len = %d after draining", tl.len())
	}
}

func TestTimeline_TiesKeepInsertionOrder(t *testing.T) {
	tl := newTimeline[time.Duration, string]()
	for _, v := range []string{"a", "b", "c", "d"} {
		tl.push(v, 5*time.Millisecond)
	}
	tl.push("early", 0)

	got := make([]string, 0, 5)
	for {
		v, _, ok := tl.pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"early", "a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTimeline_PopEmpty(t *testing.T) {
	tl := newTimeline[int, int]()
	if _, _, ok := tl.pop(); ok {
		t.Error("pop on empty timeline should report ok=false")
	}
}
