package pipeline

import "sync"

// Mailbox is a single-slot hand-off between two stages.
//
// It behaves like a channel of capacity one whose sender never blocks: a Put
// while the previous item is still unconsumed replaces that item and counts
// it as dropped. Take blocks until an item is present or the mailbox is
// closed.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	item   any
	full   bool
	closed bool

	dropped uint64
	taken   uint64
}

// NewMailbox returns an empty open mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores v, replacing any unconsumed item. It reports whether an item
// was overwritten. Put on a closed mailbox is a no-op.
func (m *Mailbox) Put(v any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	overwrote := m.full
	if overwrote {
		m.dropped++
	}
	m.item = v
	m.full = true
	m.cond.Signal()
	return overwrote
}

// Take blocks until an item is available, then removes and returns it. The
// second result is false once the mailbox is closed.
func (m *Mailbox) Take() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil, false
	}
	v := m.item
	m.item = nil
	m.full = false
	m.taken++
	return v, true
}

// Pending reports whether an unconsumed item is held.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}

// Dropped returns how many items were overwritten before being taken.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close wakes any blocked Take. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.item = nil
	m.full = false
	m.cond.Broadcast()
}
