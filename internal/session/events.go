package session

import (
	"fmt"
	"sync"
	"time"
)

// EventType identifies a lifecycle event emitted by the manager.
type EventType int

const (
	// EventRefreshSucceeded fires after a successful refresh wrote a
	// new credential record.
	EventRefreshSucceeded EventType = iota
	// EventSessionExpired fires exactly once per transition into the
	// Expired state.
	EventSessionExpired
	// EventRefreshFailed fires after a failed refresh attempt,
	// transient or terminal.
	EventRefreshFailed
	// EventBackoffScheduled fires when a retry has been scheduled.
	EventBackoffScheduled
	// EventStoreReplaced fires when another process's write to the
	// credential store was observed.
	EventStoreReplaced
)

func (t EventType) String() string {
	switch t {
	case EventRefreshSucceeded:
		return "refresh_succeeded"
	case EventSessionExpired:
		return "session_expired"
	case EventRefreshFailed:
		return "refresh_failed"
	case EventBackoffScheduled:
		return "backoff_scheduled"
	case EventStoreReplaced:
		return "store_replaced"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a lifecycle notification delivered to subscribers.
type Event struct {
	Type   EventType
	At     time.Time
	Detail string
}

const eventBuffer = 32

// broadcaster fans events out to subscribers. Delivery is best-effort:
// a stalled subscriber drops events rather than blocking the manager.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster) emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Drop if the subscriber is stalled.
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
