// Package entity provides the normalized entity model shared by the
// connection resolver, the cache merge layer, and the mutation reconciler.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/relaykit/errors"
)

// Type identifies the kind of an entity. The set is open: the demo schema
// ships products, customers and orders, but any non-empty string is a valid
// type for the cache and resolver.
type Type string

const (
	// TypeProduct is a catalog product.
	TypeProduct Type = "product"

	// TypeCustomer is a registered customer account.
	TypeCustomer Type = "customer"

	// TypeOrder is a customer order referencing products.
	TypeOrder Type = "order"
)

// String returns the string representation of the Type.
func (t Type) String() string {
	return string(t)
}

// provisionalPrefix marks client-local identifiers minted before the
// authoritative store has assigned a real one.
const provisionalPrefix = "prov-"

// Entity is a normalized record: a stable identifier plus a mapping of named
// fields to values. Identity is immutable once assigned by the store; the
// Version field increases on every confirmed write and doubles as the
// tie-break discipline for stable pagination.
type Entity struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Fields    map[string]any `json:"fields"`
	Version   uint64         `json:"version"`
	Pending   bool           `json:"pending,omitempty"` // true only for provisional entities
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// New creates a confirmed entity with the given identity and fields.
func New(typ Type, id string, fields map[string]any) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:        id,
		Type:      typ,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewProvisional creates a client-local entity with a temporary identifier,
// tagged pending. Provisional entities exist only between mutation dispatch
// and resolution and are never persisted to the authoritative store.
func NewProvisional(typ Type, fields map[string]any) *Entity {
	e := New(typ, provisionalPrefix+uuid.NewString(), fields)
	e.Pending = true
	return e
}

// IsProvisionalID reports whether id was minted by NewProvisional.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Key returns the normalized cache key "type:id".
func (e *Entity) Key() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// Field returns a named field value and whether it is present.
func (e *Entity) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// SetField sets a named field value, allocating the field map if needed.
func (e *Entity) SetField(name string, value any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[name] = value
	e.UpdatedAt = time.Now().UTC()
}

// MergeFields applies updates with last-writer-wins per field.
func (e *Entity) MergeFields(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		e.Fields[k] = v
	}
	e.UpdatedAt = time.Now().UTC()
}

// Clone returns a copy that shares no mutable state with the receiver.
// Field values are copied one level deep, which is sufficient because field
// values are treated as immutable once written.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Fields = cloneFields(e.Fields)
	return &clone
}

// Validate checks the entity carries a usable identity.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Entity", "Validate", "entity ID is required")
	}
	if e.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Entity", "Validate", "entity type is required")
	}
	if e.Pending && !IsProvisionalID(e.ID) {
		return errors.WrapInvalid(errors.ErrInvalidData, "Entity", "Validate",
			"pending entity must carry a provisional identifier")
	}
	return nil
}

// MarshalJSON ensures field maps serialize as {} rather than null so
// clients can merge without nil checks.
func (e *Entity) MarshalJSON() ([]byte, error) {
	type alias Entity
	a := (*alias)(e.Clone())
	if a.Fields == nil {
		a.Fields = map[string]any{}
	}
	return json.Marshal(a)
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
