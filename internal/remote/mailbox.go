package remote

import (
	"encoding/json"
	"sync"
)

// mailbox delivers values to a subscriber callback on its own goroutine,
// in the order they were posted. Posting never blocks the writer.
type mailbox struct {
	fn func(json.RawMessage)

	mu     sync.Mutex
	queue  []json.RawMessage
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newMailbox(fn func(json.RawMessage)) *mailbox {
	m := &mailbox{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) post(v json.RawMessage) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			v := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.fn(v)
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}
