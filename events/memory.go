package events

import (
	"context"
	"sync"
)

// MemoryPublisher records events in memory for testing.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	subs   []chan Event
	closed bool
}

var _ Publisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates an empty publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records e and forwards it to subscribers without blocking.
func (m *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.events = append(m.events, e)
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
			// Buffer full
		}
	}
	return nil
}

// Subscribe returns a channel receiving events published from now on.
// The channel is closed by Close.
func (m *MemoryPublisher) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Events returns a copy of every recorded event in order.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns recorded events of type t.
func (m *MemoryPublisher) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Close closes subscriber channels. Further publishes fail with ErrClosed.
func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}
