package workload

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

// timelineHeap is a min-heap of values keyed by an ordered priority. The
// replay runner keys it by time offset, so actions pop earliest-first;
// insertion order breaks ties through the monotonic seq.
type timelineHeap[K constraints.Ordered, T any] []timelineItem[K, T]

type timelineItem[K constraints.Ordered, T any] struct {
	value T
	key   K
	seq   int
}

func (q timelineHeap[K, T]) Len() int { return len(q) }

func (q timelineHeap[K, T]) Less(i, j int) bool {
	if q[i].key != q[j].key {
		return q[i].key < q[j].key
	}
	return q[i].seq < q[j].seq
}

func (q timelineHeap[K, T]) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *timelineHeap[K, T]) Push(x any) {
	*q = append(*q, x.(timelineItem[K, T]))
}

func (q *timelineHeap[K, T]) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = timelineItem[K, T]{} // avoid memory leak
	*q = old[0 : n-1]
	return item
}

// timeline is the ordered action queue for a replay.
type timeline[K constraints.Ordered, T any] struct {
	heap timelineHeap[K, T]
	seq  int
}

func newTimeline[K constraints.Ordered, T any]() *timeline[K, T] {
	return &timeline[K, T]{}
}

func (q *timeline[K, T]) push(value T, key K) {
	heap.Push(&q.heap, timelineItem[K, T]{value: value, key: key, seq: q.seq})
	q.seq++
}

func (q *timeline[K, T]) pop() (value T, key K, ok bool) {
	if len(q.heap) == 0 {
		return value, key, false
	}
	item := heap.Pop(&q.heap).(timelineItem[K, T])
	return item.value, item.key, true
}

func (q *timeline[K, T]) len() int {
	return len(q.heap)
}
