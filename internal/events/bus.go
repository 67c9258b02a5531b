// Package events is a small in-process observer bus. The core publishes
// lifecycle and sync notifications on it so UI shells can react without the
// core knowing who listens.
package events

import (
	"sort"
	"sync"
	"time"
)

type Type string

const (
	TransactionCompleted Type = "transaction_completed"
	TransactionSuspended Type = "transaction_suspended"
	TransactionResumed   Type = "transaction_resumed"
	ShiftStarted         Type = "shift_started"
	ShiftClosed          Type = "shift_closed"
	SyncItemQueued       Type = "sync_item_queued"
	SyncItemCompleted    Type = "sync_item_completed"
	SyncItemFailed       Type = "sync_item_failed"
)

type Event struct {
	Type     Type
	EntityID string
	At       time.Time
}

// Bus fans events out to subscribers synchronously, in subscription order.
// Subscribers must not block; the core publishes from its own call paths.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns its cancel function.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(t Type, entityID string) {
	if b == nil {
		return
	}
	evt := Event{Type: t, EntityID: entityID, At: time.Now().UTC()}
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(evt)
	}
}
