// Package memstore provides an in-memory authoritative store with snapshot
// reads and per-entity write serialization.
package memstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/types/entity"
)

// writeStripes bounds the number of per-id write locks. Two ids hashing to
// the same stripe serialize against each other, which is harmless.
const writeStripes = 64

// Store is an in-memory implementation of storage.Store.
//
// Reads copy entities out under a read lock, so one List call observes a
// single consistent version of the data. Writes serialize per entity id via
// striped locks; the global write lock is held only for the map swap, so
// concurrent writes to different entities proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity

	stripes [writeStripes]sync.Mutex
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "memstore")
	}
}

// WithClock overrides the store's time source. Used by tests that assert on
// creation-time ordering.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDFunc overrides store-assigned id generation. Used by tests that
// need predictable identities.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]*entity.Entity),
		logger:   slog.Default().With("component", "memstore"),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(typ entity.Type, id string) string {
	return fmt.Sprintf("%s:%s", typ, id)
}

func (s *Store) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.stripes[h.Sum32()%writeStripes]
}

// Get returns a copy of the entity with the given identity.
func (s *Store) Get(ctx context.Context, typ entity.Type, id string) (*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.entities[key(typ, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Memstore", "Get",
			fmt.Sprintf("%s/%s", typ, id))
	}
	return e.Clone(), nil
}

// List returns copies of all entities of a type from a stable snapshot,
// ordered by (created_at, id) so repeated calls over an unchanged store
// return identical sequences.
func (s *Store) List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*entity.Entity, 0)
	for _, e := range s.entities {
		if e.Type == typ {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create persists a new entity under a store-assigned identity.
func (s *Store) Create(ctx context.Context, typ entity.Type, fields map[string]any) (*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if typ == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Memstore", "Create", "entity type is required")
	}

	e := entity.New(typ, s.newID(), fields)
	e.Version = 1
	now := s.clock()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.mu.Lock()
	s.entities[e.Key()] = e
	s.mu.Unlock()

	s.logger.Debug("created entity", "type", typ, "id", e.ID)
	return e.Clone(), nil
}

// Update merges fields into an existing entity. With a non-zero
// expectedVersion, a version mismatch fails with errors.ErrConflict and the
// entity is left untouched.
func (s *Store) Update(ctx context.Context, typ entity.Type, id string, fields map[string]any, expectedVersion uint64) (*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Serialize read-modify-write per entity id.
	stripe := s.stripe(id)
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	current, ok := s.entities[key(typ, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Memstore", "Update",
			fmt.Sprintf("%s/%s", typ, id))
	}

	if expectedVersion != 0 && current.Version != expectedVersion {
		return nil, errors.WrapInvalid(errors.ErrConflict, "Memstore", "Update",
			fmt.Sprintf("%s/%s: expected version %d, have %d", typ, id, expectedVersion, current.Version))
	}

	updated := current.Clone()
	updated.MergeFields(fields)
	updated.Version++
	updated.UpdatedAt = s.clock()

	s.mu.Lock()
	s.entities[updated.Key()] = updated
	s.mu.Unlock()

	return updated.Clone(), nil
}

// Delete removes an entity.
func (s *Store) Delete(ctx context.Context, typ entity.Type, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stripe := s.stripe(id)
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(typ, id)
	if _, ok := s.entities[k]; !ok {
		return errors.WrapInvalid(errors.ErrNotFound, "Memstore", "Delete",
			fmt.Sprintf("%s/%s", typ, id))
	}
	delete(s.entities, k)
	return nil
}

// Len returns the total number of entities across all types.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
