// Package cache implements the normalized entity cache that the pagination
// and optimistic-mutation protocol reconciles against.
//
// The cache is a mapping from (entity type, id) to a single normalized
// entity. Connection pages are stored as ordered id lists referencing the
// normalized map, never as entity copies, so one entity update is visible to
// every page that contains it. Relocation atomically swaps a provisional
// identity for a confirmed one; subscribers of the provisional id are
// redirected and observe the same relocation event.
package cache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/metric"
	"github.com/c360/relaykit/types/entity"
)

// WildcardID subscribes to every entity of a type.
const WildcardID = "*"

// Store is the normalized cache merge layer. All methods are safe for
// concurrent use; reads never block on other reads, and every mutation
// (including relocation) is atomic with respect to any single reader.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	pages    map[string]*pageRef
	subs     map[string]map[int]*subscriber
	nextSub  int

	bufSize int
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the cache's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "cache")
	}
}

// WithMetrics enables core metric tracking.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithSubscriptionBuffer sets the per-subscriber event buffer size.
// A slow consumer whose buffer fills drops events rather than blocking
// cache writers.
func WithSubscriptionBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// NewStore creates an empty normalized cache.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]*entity.Entity),
		pages:    make(map[string]*pageRef),
		subs:     make(map[string]map[int]*subscriber),
		bufSize:  64,
		logger:   slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(typ entity.Type, id string) string {
	return fmt.Sprintf("%s:%s", typ, id)
}

// Read returns the cached entity for (type, id), or false if absent.
// The returned entity is a copy; mutating it does not affect the cache.
func (s *Store) Read(typ entity.Type, id string) (*entity.Entity, bool) {
	s.mu.RLock()
	e, ok := s.entities[key(typ, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Write upserts an entity. Fields merge with last-writer-wins semantics per
// field; an explicit version on the incoming entity replaces the cached one.
// Subscribers of the entity (and of the type wildcard) receive an updated
// event.
func (s *Store) Write(e *entity.Entity) error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Cache", "Write", "nil entity")
	}
	if err := e.Validate(); err != nil {
		return errors.Wrap(err, "Cache", "Write", "validate entity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := e.Key()
	var merged *entity.Entity
	if existing, ok := s.entities[k]; ok {
		merged = existing.Clone()
		merged.MergeFields(e.Fields)
		if e.Version > 0 {
			merged.Version = e.Version
		}
		merged.Pending = e.Pending
	} else {
		merged = e.Clone()
		if s.metrics != nil {
			s.metrics.CacheEntities.WithLabelValues(string(e.Type)).Inc()
		}
	}
	s.entities[k] = merged

	s.notifyLocked(Event{Kind: EventUpdated, Type: merged.Type, ID: merged.ID, Entity: merged.Clone()})
	return nil
}

// Replace swaps the cached entity for (type, id) wholesale: no field merge,
// the incoming entity becomes the cached state exactly. Used for rollback to
// a pre-dispatch snapshot and for applying an authoritative result over an
// optimistic overlay. Subscribers receive an updated event.
func (s *Store) Replace(e *entity.Entity) error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Cache", "Replace", "nil entity")
	}
	if err := e.Validate(); err != nil {
		return errors.Wrap(err, "Cache", "Replace", "validate entity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := e.Key()
	if _, ok := s.entities[k]; !ok && s.metrics != nil {
		s.metrics.CacheEntities.WithLabelValues(string(e.Type)).Inc()
	}
	s.entities[k] = e.Clone()

	s.notifyLocked(Event{Kind: EventUpdated, Type: e.Type, ID: e.ID, Entity: e.Clone()})
	return nil
}

// Relocate atomically replaces the provisional entity at (type, oldID) with
// the confirmed entity. Page references to the old id are rewritten, every
// subscriber of the old id observes a single relocation event carrying the
// confirmed entity, and those subscriptions are redirected to the new id.
// The swap is never partially applied: a reader sees either the provisional
// entity under the old id or the confirmed entity under the new one.
func (s *Store) Relocate(typ entity.Type, oldID string, confirmed *entity.Entity) error {
	if confirmed == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Cache", "Relocate", "nil confirmed entity")
	}
	if err := confirmed.Validate(); err != nil {
		return errors.Wrap(err, "Cache", "Relocate", "validate confirmed entity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := key(typ, oldID)
	if _, ok := s.entities[oldKey]; !ok {
		return errors.WrapInvalid(errors.ErrNotFound, "Cache", "Relocate",
			fmt.Sprintf("no entity at %s to relocate", oldKey))
	}

	replacement := confirmed.Clone()
	replacement.Pending = false

	delete(s.entities, oldKey)
	s.entities[replacement.Key()] = replacement

	// Pages referencing the provisional id now reference the confirmed one.
	for _, page := range s.pages {
		if page.Type != typ {
			continue
		}
		for i := range page.Edges {
			if page.Edges[i].ID == oldID {
				page.Edges[i].ID = replacement.ID
			}
		}
	}

	event := Event{
		Kind:   EventRelocated,
		Type:   typ,
		ID:     oldID,
		NewID:  replacement.ID,
		Entity: replacement.Clone(),
	}
	s.notifyTopicLocked(key(typ, oldID), event)
	s.notifyTopicLocked(key(typ, WildcardID), event)

	// Redirect old-id subscribers so they keep observing the entity under
	// its confirmed identity.
	if old := s.subs[oldKey]; len(old) > 0 {
		newKey := replacement.Key()
		if s.subs[newKey] == nil {
			s.subs[newKey] = make(map[int]*subscriber)
		}
		for id, sub := range old {
			s.subs[newKey][id] = sub
		}
		delete(s.subs, oldKey)
	}

	if s.metrics != nil {
		s.metrics.CacheRelocations.Inc()
	}
	s.logger.Debug("relocated entity", "type", typ, "old_id", oldID, "new_id", replacement.ID)
	return nil
}

// Evict removes an entity. Page references to it are dropped so that every
// entity reachable from a cached page remains present in the normalized map.
// Returns true if the entity existed.
func (s *Store) Evict(typ entity.Type, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(typ, id)
	if _, ok := s.entities[k]; !ok {
		return false
	}
	delete(s.entities, k)

	for _, page := range s.pages {
		if page.Type != typ {
			continue
		}
		kept := page.Edges[:0]
		for _, edge := range page.Edges {
			if edge.ID != id {
				kept = append(kept, edge)
			}
		}
		page.Edges = kept
	}

	if s.metrics != nil {
		s.metrics.CacheEntities.WithLabelValues(string(typ)).Dec()
	}

	s.notifyLocked(Event{Kind: EventEvicted, Type: typ, ID: id})
	return true
}

// Subscribe returns a stream of events for (type, id). Pass WildcardID to
// observe every entity of the type. Events arrive in the order the cache
// applied them.
func (s *Store) Subscribe(typ entity.Type, id string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic := key(typ, id)
	s.nextSub++
	sub := &subscriber{id: s.nextSub, ch: make(chan Event, s.bufSize)}
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[int]*subscriber)
	}
	s.subs[topic][sub.id] = sub

	if s.metrics != nil {
		s.metrics.CacheSubscribers.Inc()
	}

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// The subscriber may have been redirected by a relocation, so
			// scan topics rather than trusting the original key.
			for t, set := range s.subs {
				if _, ok := set[sub.id]; ok {
					delete(set, sub.id)
					if len(set) == 0 {
						delete(s.subs, t)
					}
					close(sub.ch)
					if s.metrics != nil {
						s.metrics.CacheSubscribers.Dec()
					}
					return
				}
			}
		},
	}
}

// Len returns the number of entities in the normalized map.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Keys returns the normalized keys currently cached.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops all entities, pages and delivers nothing. Subscriptions stay
// registered.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*entity.Entity)
	s.pages = make(map[string]*pageRef)
}

// notifyLocked delivers an event to the entity's topic and the type
// wildcard topic. Callers must hold the write lock.
func (s *Store) notifyLocked(event Event) {
	s.notifyTopicLocked(key(event.Type, event.ID), event)
	s.notifyTopicLocked(key(event.Type, WildcardID), event)
}

// notifyTopicLocked sends without blocking; a full subscriber buffer drops
// the event so a stalled consumer cannot wedge cache writers.
func (s *Store) notifyTopicLocked(topic string, event Event) {
	for _, sub := range s.subs[topic] {
		select {
		case sub.ch <- event:
		default:
			s.logger.Warn("dropping cache event for slow subscriber",
				"topic", topic, "kind", event.Kind)
		}
	}
}
