// Package storage defines the pluggable authoritative-store interface.
package storage

import (
	"context"

	"github.com/c360/relaykit/types/entity"
)

// Store is the authoritative persistence backend for entities.
//
// The connection resolver requires exactly one capability from persistence:
// List must return a stable snapshot, meaning one call observes a single
// consistent version of the data even while writes proceed concurrently.
// Everything else (ordering, cursor positioning, slicing) is the resolver's
// job.
//
// Write operations assign and own entity identity: Create mints the final
// id, and a provisional client-side id never reaches the store. Update and
// Delete serialize per entity id so that concurrent writes to the same
// entity cannot interleave field-level changes.
//
// Thread safety: all implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entity with the given identity, or errors.ErrNotFound.
	Get(ctx context.Context, typ entity.Type, id string) (*entity.Entity, error)

	// List returns all entities of a type from a stable snapshot.
	List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error)

	// Create persists a new entity with a store-assigned id and version 1.
	Create(ctx context.Context, typ entity.Type, fields map[string]any) (*entity.Entity, error)

	// Update merges fields into an existing entity, bumping its version.
	// A non-zero expectedVersion that does not match the current version
	// fails with errors.ErrConflict and applies nothing.
	Update(ctx context.Context, typ entity.Type, id string, fields map[string]any, expectedVersion uint64) (*entity.Entity, error)

	// Delete removes an entity, or errors.ErrNotFound if absent.
	Delete(ctx context.Context, typ entity.Type, id string) error
}
