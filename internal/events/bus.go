// Package events provides a small typed publish/subscribe bus for sync
// lifecycle notifications.
//
// The bus replaces ad-hoc listener slices: subscribers receive a token and
// unsubscribe explicitly. Publishing never blocks the publisher; a slow
// subscriber drops events rather than stalling a sync cycle.
package events

import "sync"

// Type identifies the kind of event on the bus.
type Type string

const (
	// TypeOnline fires when connectivity is regained.
	TypeOnline Type = "online"
	// TypeOffline fires when connectivity is lost.
	TypeOffline Type = "offline"
	// TypeSyncStart fires when a sync cycle begins.
	TypeSyncStart Type = "sync_start"
	// TypeSyncComplete fires after a fully successful cycle.
	TypeSyncComplete Type = "sync_complete"
	// TypeSyncError fires when a cycle aborts.
	TypeSyncError Type = "sync_error"
	// TypeConflictResolved fires for each server-adjudicated conflict applied.
	TypeConflictResolved Type = "conflict_resolved"
	// TypeQueued fires when a mutation is enqueued for sync.
	TypeQueued Type = "queued"
	// TypeAuthChanged fires when the session logs in or out.
	TypeAuthChanged Type = "auth_changed"
)

// Event is one bus notification.
type Event struct {
	Type Type

	// DocID is set for document-scoped events (queued, conflict_resolved).
	DocID string

	// Err is set for sync_error.
	Err error

	// Applied/Received/Conflicts carry cycle counters for sync_complete.
	Applied   int
	Received  int
	Conflicts int

	// LoggedIn is set for auth_changed.
	LoggedIn bool
}

// Subscription is an active bus subscription. Close it to unsubscribe.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan Event
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscription is cancelled or the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Cancel removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.id)
}

// Bus fans events out to all active subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with a buffered channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return &Subscription{bus: b, id: -1, ch: ch}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return &Subscription{bus: b, id: id, ch: ch}
}

// Publish delivers ev to every subscriber without blocking. Subscribers
// whose buffers are full miss the event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
