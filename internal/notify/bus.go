// Package notify fans session notifications out to subscribers
package notify

import (
	"sync"
	"time"
)

// Event names
const (
	EventDoneFinding        = "done-finding"
	EventDoneAppending      = "done-appending"
	EventDonePrinting       = "done-printing"
	EventDoneFindingPorts   = "done-finding-ports"
	EventDoneFindingNetwork = "done-finding-network"
	EventDoneOpeningPort    = "done-opening-port"
	EventDoneClosingPort    = "done-closing-port"
	EventSerialReturned     = "serial-data-returned"
)

// Event is one outbound notification
type Event struct {
	Name      string    `json:"event"`
	Operation string    `json:"operation,omitempty"`
	Port      string    `json:"port,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Bus is a non-blocking publish/subscribe fan-out
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. A subscriber whose buffer is full misses events.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber without blocking
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber buffer full, skip
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
