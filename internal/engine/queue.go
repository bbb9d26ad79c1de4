package engine

import (
	"sync"

	"github.com/roach88/qbar/internal/scan"
)

// EventType distinguishes queued event kinds.
type EventType int

const (
	EventTypeDetection EventType = iota + 1
	EventTypeImageResult
	EventTypeSetupResult
	EventTypeReset
	EventTypeResetWithError
	EventTypeExpire
	EventTypeDismiss
	EventTypeStartCapture
	EventTypeStopCapture
	EventTypeFlush
)

var eventTypeNames = map[EventType]string{
	EventTypeDetection:      "detection",
	EventTypeImageResult:    "image_result",
	EventTypeSetupResult:    "setup_result",
	EventTypeReset:          "reset",
	EventTypeResetWithError: "reset_with_error",
	EventTypeExpire:         "expire",
	EventTypeDismiss:        "dismiss",
	EventTypeStartCapture:   "start_capture",
	EventTypeStopCapture:    "stop_capture",
	EventTypeFlush:          "flush",
}

// String returns the snake_case name of the event type.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one unit of work for the Run loop. Only the fields relevant to
// Type are set.
type Event struct {
	Type       EventType
	Detection  *scan.DetectionEvent
	Ticket     scan.Ticket
	Image      *scan.ImageResult
	Err        error
	Message    string
	Generation uint64

	done chan struct{}
}

// eventQueue is a thread-safe unbounded FIFO.
//
// Producers never block: the camera delivery goroutine must not stall on a
// busy engine. The signal channel (buffered, size 1) lets Run wait with a
// select alongside ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Clear the slot so images held by the event can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed, and so fires forever, once the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes waiters. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
