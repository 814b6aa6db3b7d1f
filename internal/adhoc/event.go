package adhoc

import "sync"

// Kind is the type of an engine event.
type Kind uint8

const (
	KindStartJob Kind = iota + 1
	KindReadFile
	KindStopJob
)

func (k Kind) String() string {
	switch k {
	case KindStartJob:
		return "start_job"
	case KindReadFile:
		return "read_file"
	case KindStopJob:
		return "stop_job"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the engine loop. Only the fields relevant to
// Kind are set: Paths for start, WaitCount for read.
type Event struct {
	Kind      Kind
	Job       string
	Paths     []string
	WaitCount int
	// Epoch is the AddJob generation the event belongs to.
	Epoch uint64
}

// EventQueue is an unbounded FIFO with many producers and one consumer.
// The engine re-enqueues its own read events, so the queue cannot be a
// bounded channel without risking a self-deadlock.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends ev.
func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest event, if any.
func (q *EventQueue) TryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return ev, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
