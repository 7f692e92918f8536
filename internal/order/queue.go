package order

import (
	"container/heap"
	"sync"
	"time"

	"options_engine/internal/core"
	"options_engine/pkg/telemetry"
)

// PriorityQueue is an unbounded queue ordered by (priority asc, sequence
// asc). Dequeue blocks until an entry is available or the queue is closed;
// after Close, Dequeue keeps returning queued entries until the heap is
// drained, so shutdown loses nothing.
type PriorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   orderHeap
	seq    uint64
	closed bool
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits a request at the given priority and returns the assigned
// sequence number.
func (q *PriorityQueue) Enqueue(req core.OrderRequest, priority core.Priority) (core.PrioritizedOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return core.PrioritizedOrder{}, false
	}

	q.seq++
	po := core.PrioritizedOrder{
		Request:    req,
		Priority:   priority,
		Sequence:   q.seq,
		EnqueuedAt: time.Now(),
	}
	heap.Push(&q.heap, po)
	telemetry.GetGlobalMetrics().SetQueueDepth(int64(q.heap.Len()))
	q.cond.Signal()
	return po, true
}

// Dequeue blocks for the next entry. The second return is false once the
// queue is closed and empty.
func (q *PriorityQueue) Dequeue() (core.PrioritizedOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.heap.Len() == 0 {
		return core.PrioritizedOrder{}, false
	}

	po := heap.Pop(&q.heap).(core.PrioritizedOrder)
	telemetry.GetGlobalMetrics().SetQueueDepth(int64(q.heap.Len()))
	return po, true
}

// TryDequeue returns the next entry without blocking.
func (q *PriorityQueue) TryDequeue() (core.PrioritizedOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return core.PrioritizedOrder{}, false
	}
	po := heap.Pop(&q.heap).(core.PrioritizedOrder)
	telemetry.GetGlobalMetrics().SetQueueDepth(int64(q.heap.Len()))
	return po, true
}

// Close stops accepting new entries and wakes all waiters.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of waiting entries.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// orderHeap implements heap.Interface with (priority, sequence) ordering.
type orderHeap []core.PrioritizedOrder

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x interface{}) {
	*h = append(*h, x.(core.PrioritizedOrder))
}

func (h *orderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
