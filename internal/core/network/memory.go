package network

import (
	"sync"
)

const defaultSubscriptionBuffer = 64

// MemoryOption configures a MemoryPubSub.
type MemoryOption func(*MemoryPubSub)

// WithBuffer sets the channel capacity of each subscription. Values <= 0
// keep the default.
func WithBuffer(n int) MemoryOption {
	return func(m *MemoryPubSub) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// MemoryPubSub delivers messages to subscribers inside this process. A
// subscriber whose buffer is full misses the message; publishers never block.
type MemoryPubSub struct {
	mu     sync.RWMutex
	nextID int
	buffer int
	closed bool
	subs   map[string]map[int]chan Message
}

func NewMemoryPubSub(opts ...MemoryOption) *MemoryPubSub {
	m := &MemoryPubSub{
		buffer: defaultSubscriptionBuffer,
		subs:   make(map[string]map[int]chan Message),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, m.buffer)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeLocked(topic, id)
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscriptions topic currently has.
func (m *MemoryPubSub) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close ends every subscription. Later calls to Publish and Subscribe fail.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, byID := range m.subs {
		for id := range byID {
			m.removeLocked(topic, id)
		}
	}
	return nil
}

func (m *MemoryPubSub) removeLocked(topic string, id int) {
	byID, ok := m.subs[topic]
	if !ok {
		return
	}
	if ch, exists := byID[id]; exists {
		delete(byID, id)
		close(ch)
	}
	if len(byID) == 0 {
		delete(m.subs, topic)
	}
}
