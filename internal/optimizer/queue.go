package optimizer

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when more requests are admitted than the queue holds
var ErrQueueFull = errors.New("optimizer queue is full")

// QueueStats describes the admission queue
type QueueStats struct {
	Active   int `json:"active"`
	Waiting  int `json:"waiting"`
	Admitted int `json:"admitted"`
	Rejected int `json:"rejected"`
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	granted  bool
	index    int
}

type waiterHeap struct {
	items      []*waiter
	byPriority bool
}

func (h *waiterHeap) Len() int { return len(h.items) }

func (h *waiterHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.byPriority && a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (h *waiterHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(h.items)
	h.items = append(h.items, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	h.items = old[:n-1]
	return w
}

// admissionQueue bounds how many requests are admitted and how many run at
// once. Waiters are granted slots by priority or in arrival order.
type admissionQueue struct {
	mu        sync.Mutex
	limit     int
	maxActive int
	admitted  int
	active    int
	rejected  int
	seq       uint64
	waiters   waiterHeap
}

func newAdmissionQueue(limit, maxActive int, strategy string) *admissionQueue {
	return &admissionQueue{
		limit:     limit,
		maxActive: maxActive,
		waiters:   waiterHeap{byPriority: strategy == StrategyPriority},
	}
}

// acquire admits the caller and blocks until a dispatch slot is free. The
// returned release must be called once the request has finished.
func (q *admissionQueue) acquire(ctx context.Context, priority int) (func(), error) {
	q.mu.Lock()
	if q.admitted >= q.limit {
		q.rejected++
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	q.admitted++

	if q.active < q.maxActive && q.waiters.Len() == 0 {
		q.active++
		q.mu.Unlock()
		return q.releaser(), nil
	}

	q.seq++
	w := &waiter{priority: priority, seq: q.seq, ready: make(chan struct{})}
	heap.Push(&q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return q.releaser(), nil
	case <-ctx.Done():
		q.mu.Lock()
		if w.granted {
			q.mu.Unlock()
			q.release()
			return nil, ctx.Err()
		}
		heap.Remove(&q.waiters, w.index)
		q.admitted--
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (q *admissionQueue) releaser() func() {
	var once sync.Once
	return func() { once.Do(q.release) }
}

func (q *admissionQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	q.admitted--
	q.grantLocked()
}

func (q *admissionQueue) grantLocked() {
	for q.active < q.maxActive && q.waiters.Len() > 0 {
		w := heap.Pop(&q.waiters).(*waiter)
		w.granted = true
		q.active++
		close(w.ready)
	}
}

// resize applies new limits; waiters are reordered for the new strategy
func (q *admissionQueue) resize(limit, maxActive int, strategy string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit = limit
	q.maxActive = maxActive
	q.waiters.byPriority = strategy == StrategyPriority
	heap.Init(&q.waiters)
	q.grantLocked()
}

func (q *admissionQueue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Active:   q.active,
		Waiting:  q.waiters.Len(),
		Admitted: q.admitted,
		Rejected: q.rejected,
	}
}
