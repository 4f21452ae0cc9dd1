package cluster

import "container/heap"

// eventEntry wraps an Event with a sequence ID for deterministic FIFO
// tie-breaking when timestamps are equal.
type eventEntry struct {
	event Event
	seqID int64
}

// eventHeap is a min-heap ordered by (Time, seqID). Implements heap.Interface.
type eventHeap []eventEntry

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Time != h[j].event.Time {
		return h[i].event.Time < h[j].event.Time
	}
	return h[i].seqID < h[j].seqID
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(eventEntry))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventQueue orders pending events by time; events with equal times pop in
// insertion order.
//
// Thread-safety: NOT thread-safe. Must be used from the event loop only.
type EventQueue struct {
	events eventHeap
	nextID int64
	counts map[EventType]int
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{counts: make(map[EventType]int)}
}

// Push schedules an event.
func (q *EventQueue) Push(e Event) {
	heap.Push(&q.events, eventEntry{event: e, seqID: q.nextID})
	q.nextID++
	q.counts[e.Type]++
}

// PopNext removes and returns the earliest event. ok is false when the queue is empty.
func (q *EventQueue) PopNext() (e Event, ok bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	e = heap.Pop(&q.events).(eventEntry).event
	q.counts[e.Type]--
	return e, true
}

// Peek returns the earliest event without removing it.
func (q *EventQueue) Peek() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	return q.events[0].event, true
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

// Count returns the number of pending events of the given type.
func (q *EventQueue) Count(t EventType) int {
	return q.counts[t]
}

// hasWork reports whether any pending event can still move a request forward.
func (q *EventQueue) hasWork() bool {
	for t, n := range q.counts {
		if n > 0 && t.carriesWork() {
			return true
		}
	}
	return false
}
