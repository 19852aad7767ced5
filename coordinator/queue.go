package coordinator

import (
	"container/heap"
	"sync"
)

// Priority tiers for the deferred-dispatch task queue (spec §4.4, §4.5),
// ordered highest priority first. These are not a free parameter: §9's
// design note is explicit that the Coordinator's queue "is not a generic
// task scheduler" and that implementers should derive the tier from the
// op kind, never invent one.
const (
	// TierFeedObjectCloseUnderway is the tier for the stored close-callbacks
	// of an already-dispatched app-initiated close. Nothing in this module
	// schedules at it: each close is a single Handler.OnFeedObjectClose
	// call at TierAppFeedObjectClose, and FIFO order within that tier
	// already finishes one close before any subsequent close is observed.
	TierFeedObjectCloseUnderway = 0
	// TierAppFeedObjectClose emits the `close` event on the feed object
	// whose close the application just requested. Rationale (c): an
	// app-initiated close pre-empts all Conversation-driven work so that
	// closes complete even across a disconnect in flight.
	TierAppFeedObjectClose = 1
	// TierConvoEventUnderway carries the sub-invocations a pending
	// Conversation event schedules while it is being processed — e.g. the
	// per-object callbacks a feedOpenSuccess or feedAction fans out to.
	// Rationale (b): these must run before the next pending event.
	TierConvoEventUnderway = 2
	// TierAppFeedObjectOpen resolves an app feedObjectOpen() call once the
	// master feed state is already open (no server round trip needed).
	// Rationale (e): this runs only after the underway event finishes, so
	// existing feed objects observe the most recent master state first.
	TierAppFeedObjectOpen = 3
	// TierConvoEventPending processes the next Conversation event in the
	// order it arrived. Rationale (a): pending events are FIFO.
	TierConvoEventPending = 4
)

type task struct {
	tier int
	seq  uint64
	fn   func()
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].tier != h[j].tier {
		return h[i].tier < h[j].tier
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TaskQueue is the 5-tier deferred-dispatch priority queue of spec §4.4.
// Defer pushes onto the heap and, unless a drain is already running further
// up the call stack, drains the queue to empty before returning, so a task
// deferred outside a drain runs synchronously on the caller's goroutine
// before Defer returns. The drain does not yield between tasks. A task that
// itself calls Defer simply adds more work for the same drain loop,
// which keeps callback ordering strictly tier-then-FIFO even when
// dispatching one event schedules several more.
type TaskQueue struct {
	mu       sync.Mutex
	h        taskHeap
	nextSeq  uint64
	draining bool
}

// NewTaskQueue returns an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{}
	heap.Init(&q.h)
	return q
}

// Defer schedules fn to run at tier, in FIFO order relative to every
// other task already queued at that tier.
func (q *TaskQueue) Defer(tier int, fn func()) {
	q.mu.Lock()
	q.nextSeq++
	heap.Push(&q.h, &task{tier: tier, seq: q.nextSeq, fn: fn})
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	q.drain()
}

func (q *TaskQueue) drain() {
	for {
		q.mu.Lock()
		if q.h.Len() == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		next := heap.Pop(&q.h).(*task)
		q.mu.Unlock()
		next.fn()
	}
}
