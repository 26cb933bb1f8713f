// Package eventqueue implements the ordered, unbounded FIFO of lifecycle
// events awaiting publication, grounded on
// original_source/job_runner_worker/events.py's use of gevent.queue.Queue:
// producers push without blocking, the publisher polls non-blocking and
// sleeps when empty (spec.md §4.8).
package eventqueue

import (
	"container/list"
	"sync"

	"github.com/relaywatch/jobrunner-worker/internal/model"
)

// Queue is a thread-safe, unbounded FIFO of model.Event. The zero value is
// not usable; construct with New.
type Queue struct {
	mu    sync.Mutex
	items *list.List
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{items: list.New()}
}

// Push appends ev to the back of the queue. Never blocks.
func (q *Queue) Push(ev model.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(ev)
}

// TryPop removes and returns the event at the front of the queue. The
// second return value is false if the queue is empty — callers (the
// publisher) are expected to sleep and retry rather than block, matching
// the original gevent non-blocking get.
func (q *Queue) TryPop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return model.Event{}, false
	}
	q.items.Remove(front)
	return front.Value.(model.Event), true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
