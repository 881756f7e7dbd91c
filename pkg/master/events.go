package master

import (
	"sync"
	"time"
)

// Event is an unsolicited message originated by the Master, not tied to
// any outstanding command.
type Event struct {
	// Opcode identifies the event kind (OpInputChange, ...).
	Opcode uint8

	// Payload holds the event payload bytes.
	Payload []byte

	// Time is when the gateway decoded the event.
	Time time.Time
}

// Subscription is one subscriber's view of the event stream.
type Subscription struct {
	ch   chan Event
	hub  *eventHub
	id   uint64
	once sync.Once
}

// Events returns the subscriber's channel. The channel is closed when
// the subscription is cancelled or the communicator stops.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.hub.remove(s.id)
}

// eventHub fans events out to subscribers. Delivery never blocks: when
// a subscriber's buffer is full the oldest buffered event is dropped,
// so a slow consumer can never stall command execution.
type eventHub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

func newEventHub(buffer int) *eventHub {
	return &eventHub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

func (h *eventHub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		ch:  make(chan Event, h.buffer),
		hub: h,
		id:  h.nextID,
	}
	h.nextID++

	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *eventHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.once.Do(func() { close(sub.ch) })
}

func (h *eventHub) publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			// Buffer full: drop the oldest event, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}
