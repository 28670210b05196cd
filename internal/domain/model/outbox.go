package model

import (
	"sync"

	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// outbox is the bounded FIFO behind a connection.
//
// [BACKPRESSURE]
// When full, the victim is the oldest entry of the lowest priority class present.
//   - Critical incoming always evicts the victim.
//   - Otherwise the victim is evicted if it ranks below the incoming event, or
//     ranks equal and both are Low/Normal (fresher data wins).
//   - In every other case the incoming event is dropped.
type outbox struct {
	mu       sync.Mutex
	items    []event.Eventer
	capacity int

	// ready holds at most one pending wake-up for the writer loop.
	ready chan struct{}
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		items:    make([]event.Eventer, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// push returns whether ev was queued and the entry evicted to make room, if any.
func (q *outbox) push(ev event.Eventer) (bool, event.Eventer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.capacity {
		q.items = append(q.items, ev)
		q.wake()
		return true, nil
	}

	idx := q.victim()
	victim := q.items[idx]
	if !preempts(ev.GetPriority(), victim.GetPriority()) {
		return false, nil
	}

	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.items = append(q.items, ev)
	q.wake()
	return true, victim
}

// victim returns the index of the oldest entry with the lowest priority.
func (q *outbox) victim() int {
	idx := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].GetPriority() < q.items[idx].GetPriority() {
			idx = i
		}
	}
	return idx
}

func preempts(incoming, queued protocol.Priority) bool {
	switch {
	case incoming >= protocol.PriorityCritical:
		return true
	case queued < incoming:
		return true
	case queued == incoming && incoming <= protocol.PriorityNormal:
		return true
	default:
		return false
	}
}

func (q *outbox) pop() (event.Eventer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

func (q *outbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *outbox) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
}

// wake must be called with mu held.
func (q *outbox) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
