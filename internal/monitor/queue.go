package monitor

import (
	"slices"
	"sync"
	"time"
)

// fire is one dispatch request.
type fire struct {
	triggerID string
	pipeline  string
	params    map[string]any
	firedAt   time.Time
}

// dispatchQueue holds fires in arrival order and hands each one out once its
// pipeline is below the concurrency limit. Waiters block on wake, which is
// closed and replaced whenever the queue or the active counts change.
type dispatchQueue struct {
	limit int

	mu      sync.Mutex
	pending []fire
	active  map[string]int
	wake    chan struct{}
	closed  bool
}

func newDispatchQueue(limit int) *dispatchQueue {
	return &dispatchQueue{
		limit:  limit,
		active: make(map[string]int),
		wake:   make(chan struct{}),
	}
}

// broadcast must be called with mu held.
func (q *dispatchQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// push queues f. It reports false once the queue is closed.
func (q *dispatchQueue) push(f fire) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, f)
	q.broadcast()
	return true
}

// next blocks until a fire can start and marks its pipeline active. It
// returns false once the queue is closed. The oldest eligible fire wins, so
// fires of one pipeline start in arrival order.
func (q *dispatchQueue) next() (fire, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return fire{}, false
		}
		for i, f := range q.pending {
			if q.active[f.pipeline] < q.limit {
				q.pending = slices.Delete(q.pending, i, i+1)
				q.active[f.pipeline]++
				q.mu.Unlock()
				return f, true
			}
		}
		wake := q.wake
		q.mu.Unlock()
		<-wake
	}
}

// done releases the slot taken by next.
func (q *dispatchQueue) done(pipeline string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[pipeline] <= 1 {
		delete(q.active, pipeline)
	} else {
		q.active[pipeline]--
	}
	q.broadcast()
}

// close stops dispatch and returns the fires that never started.
func (q *dispatchQueue) close() []fire {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	left := q.pending
	q.pending = nil
	q.broadcast()
	return left
}

func (q *dispatchQueue) stats() (pending int, active map[string]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	active = make(map[string]int, len(q.active))
	for k, v := range q.active {
		active[k] = v
	}
	return len(q.pending), active
}
