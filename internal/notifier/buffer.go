package notifier

import (
	"sync"

	"notifyd/internal/notification"
)

// Buffer is an insertion-ordered set of envelopes keyed by DedupKey.
// It is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	keys  map[notification.DedupKey]struct{}
	items []notification.Envelope
}

func NewBuffer() *Buffer {
	return &Buffer{keys: map[notification.DedupKey]struct{}{}}
}

// Enqueue adds env unless an envelope with the same key is already pending.
// It reports whether env was added.
func (b *Buffer) Enqueue(env notification.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueueLocked(env)
}

// Replace removes pending envelopes matching fn and enqueues env in one step.
// It reports whether env was added and how many envelopes were removed.
func (b *Buffer) Replace(env notification.Envelope, fn func(notification.Envelope) bool) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.removeLocked(fn)
	return b.enqueueLocked(env), n
}

func (b *Buffer) enqueueLocked(env notification.Envelope) bool {
	k := env.Key()
	if _, dup := b.keys[k]; dup {
		return false
	}
	b.keys[k] = struct{}{}
	b.items = append(b.items, env)
	return true
}

// Drain returns every pending envelope and leaves the buffer empty.
func (b *Buffer) Drain() []notification.Envelope {
	b.mu.Lock()
	out := b.items
	b.items = nil
	b.keys = map[notification.DedupKey]struct{}{}
	b.mu.Unlock()
	return out
}

// RemoveIf drops pending envelopes matching fn and returns how many were removed.
func (b *Buffer) RemoveIf(fn func(notification.Envelope) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(fn)
}

func (b *Buffer) removeLocked(fn func(notification.Envelope) bool) int {
	kept := b.items[:0]
	removed := 0
	for _, env := range b.items {
		if fn(env) {
			delete(b.keys, env.Key())
			removed++
			continue
		}
		kept = append(kept, env)
	}
	// Clear the tail so dropped envelopes can be collected.
	for i := len(kept); i < len(b.items); i++ {
		b.items[i] = notification.Envelope{}
	}
	b.items = kept
	return removed
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	n := len(b.items)
	b.mu.Unlock()
	return n
}
