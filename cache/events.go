package cache

import (
	"github.com/c360/relaykit/types/entity"
)

// EventKind classifies cache change notifications.
type EventKind string

const (
	// EventUpdated fires when an entity is written or merged.
	EventUpdated EventKind = "updated"

	// EventRelocated fires when a provisional entity is atomically replaced
	// by its confirmed counterpart. NewID carries the confirmed identity.
	EventRelocated EventKind = "relocated"

	// EventEvicted fires when an entity is removed from the cache.
	EventEvicted EventKind = "evicted"
)

// Event is a cache change notification delivered to subscribers.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Type   entity.Type    `json:"type"`
	ID     string         `json:"id"`
	NewID  string         `json:"new_id,omitempty"` // set for EventRelocated
	Entity *entity.Entity `json:"entity,omitempty"` // nil for EventEvicted
}

// Subscription is a handle on a stream of cache events. Cancel releases the
// stream; after Cancel returns no further events are delivered and C is
// closed.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscription from the cache.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// subscriber is the cache-internal send side of a Subscription.
type subscriber struct {
	id int
	ch chan Event
}
