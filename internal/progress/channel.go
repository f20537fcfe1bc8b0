package progress

import (
	"sync"
	"sync/atomic"
)

const DefaultCapacity = 100

// Channel is a bounded event queue with a single consumer. Send never blocks:
// when the queue is full the event is dropped.
type Channel struct {
	events  chan Event
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{events: make(chan Event, capacity)}
}

// Send queues ev and reports whether it was accepted. Sending on a full or
// closed channel drops the event.
func (c *Channel) Send(ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.dropped.Add(1)
		return false
	}

	select {
	case c.events <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Drain returns every queued event without blocking.
func (c *Channel) Drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Events exposes the receive side for consumers that block, such as the
// pump writing events to a pipe.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Channel) Cap() int {
	return cap(c.events)
}
