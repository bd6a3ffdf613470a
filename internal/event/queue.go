package event

import (
	"sort"
	"time"
)

// Queue is the time-ordered sequence of future events driving simulated
// calendar progression. Insertion keeps strict ascending timestamp order;
// equal timestamps preserve arrival order.
type Queue struct {
	events []Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{events: make([]Event, 0, 4096)}
}

// Push inserts an event before the first event with a strictly greater
// timestamp, so ties keep their original arrival order.
func (q *Queue) Push(e Event) {
	i := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].Timestamp().After(e.Timestamp())
	})
	q.events = append(q.events, nil)
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = e
}

// Append adds an event at the end without an ordering search. Callers use it
// when filling the queue from an already-sorted series.
func (q *Queue) Append(e Event) {
	q.events = append(q.events, e)
}

// Pop removes and returns the earliest event, or nil when empty.
func (q *Queue) Pop() Event {
	if len(q.events) == 0 {
		return nil
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e
}

// Peek returns the earliest event without removing it.
func (q *Queue) Peek() Event {
	if len(q.events) == 0 {
		return nil
	}
	return q.events[0]
}

// PeekTime returns the timestamp of the earliest event.
func (q *Queue) PeekTime() (time.Time, bool) {
	if len(q.events) == 0 {
		return time.Time{}, false
	}
	return q.events[0].Timestamp(), true
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.events) }

// Clear removes all events.
func (q *Queue) Clear() { q.events = q.events[:0] }

// Stack is the immediate-priority FIFO queue. It is always fully drained
// before the next Queue event is taken, so same-instant cascades
// (signal, order, fill) resolve atomically with respect to portfolio state.
type Stack struct {
	events []Event
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{events: make([]Event, 0, 16)}
}

// Push appends an event for immediate resolution.
func (s *Stack) Push(e Event) {
	s.events = append(s.events, e)
}

// Pop removes and returns the oldest pending event, or nil when empty.
func (s *Stack) Pop() Event {
	if len(s.events) == 0 {
		return nil
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e
}

// Len returns the number of pending events.
func (s *Stack) Len() int { return len(s.events) }
