package frontend

import "sync"

// mailbox is an unbounded FIFO with a wake channel. put never blocks.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{wake: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// drain takes everything queued so far. open is false once closed, after
// which no further items can arrive.
func (m *mailbox[T]) drain() (items []T, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items = m.items
	m.items = nil
	return items, !m.closed
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}
