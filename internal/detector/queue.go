package detector

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrQueueClosed is returned by Next once the queue is closed and drained.
var ErrQueueClosed = errors.New("event queue closed")

// Queue merges events from several producers into one ordered stream.
// Push assigns each event the next sequence number, so consumers see events
// in the order they were accepted regardless of which producer sent them.
// It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []Event
	nextSeq uint64
	closed  bool
	notify  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends ev and returns its sequence number. Pushing to a closed queue
// is a no-op that returns 0.
func (q *Queue) Push(ev Event) uint64 {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.nextSeq++
	ev.Seq = q.nextSeq
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.signal()
	return ev.Seq
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives a value whenever events may be
// available. Signals are coalesced, so always Drain after a receive.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Drain removes and returns all queued events in sequence order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next blocks until an event is available and returns it. It returns
// ErrQueueClosed once the queue is closed and empty, or ctx.Err().
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			q.signal()
			return Event{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// All returns a sequence over queued events that blocks for new ones until
// ctx is done or the queue is closed. Breaking out of the loop leaves the
// remaining events queued, so All can be called again to resume.
func (q *Queue) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := q.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Close stops accepting events and wakes blocked consumers. Events already
// queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
