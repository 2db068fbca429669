// Package connection implements Relay-style cursor pagination over an
// abstract ordered data source.
package connection

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/c360/relaykit/cursor"
	"github.com/c360/relaykit/types/entity"
)

// Direction is a sort direction for a single field.
type Direction string

const (
	// Ascending sorts smallest first.
	Ascending Direction = "ASC"
	// Descending sorts largest first.
	Descending Direction = "DESC"
)

// SortField pairs a field name with a direction.
type SortField struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// SortSpec is an ordered sequence of (field, direction) pairs. A spec must
// include at least one field whose values are unique across the result set
// to guarantee a total order; WithTieBreak appends the entity id when the
// caller's spec has no unique field.
type SortSpec []SortField

// tieBreakField is appended to any sort lacking it. Entity ids are unique,
// which upgrades any ordering into a total order.
const tieBreakField = "id"

// WithTieBreak returns the spec with the id tie-break appended unless the
// spec already sorts on id.
func (s SortSpec) WithTieBreak() SortSpec {
	for _, f := range s {
		if f.Field == tieBreakField {
			return s
		}
	}
	out := make(SortSpec, len(s), len(s)+1)
	copy(out, s)
	return append(out, SortField{Field: tieBreakField, Direction: Ascending})
}

// Fingerprint hashes the sort configuration together with the filter it is
// paired with. A cursor embeds this value, binding it to the exact
// (filter, sort) pair that produced it.
func (s SortSpec) Fingerprint(f Filter) uint64 {
	h := fnv.New64a()
	for _, field := range s {
		fmt.Fprintf(h, "s|%s|%s;", field.Field, field.Direction)
	}
	f.hashInto(h)
	return h.Sum64()
}

// KeyFor extracts the normalized sort-key tuple of an entity under this spec.
func (s SortSpec) KeyFor(e *entity.Entity) []any {
	key := make([]any, len(s))
	for i, field := range s {
		key[i] = cursor.Normalize(fieldValue(e, field.Field))
	}
	return key
}

// CompareKeys orders two normalized key tuples in list order, honoring each
// field's direction.
func (s SortSpec) CompareKeys(a, b []any) int {
	for i := range s {
		if i >= len(a) || i >= len(b) {
			break
		}
		c := cursor.Compare(a[i], b[i])
		if s[i].Direction == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// fieldValue resolves a sort/filter field name against an entity. Intrinsic
// fields take priority over the field map so "id" always means identity.
func fieldValue(e *entity.Entity, name string) any {
	switch name {
	case "id":
		return e.ID
	case "type":
		return string(e.Type)
	case "version":
		return e.Version
	case "created_at":
		return e.CreatedAt
	case "updated_at":
		return e.UpdatedAt
	default:
		v, _ := e.Field(name)
		return v
	}
}

// Filter selects the entities a connection ranges over. Match is an
// equality predicate per field; Predicate is an arbitrary refinement that
// must carry a stable PredicateID so cursors minted under it can be
// fingerprinted.
type Filter struct {
	Type        entity.Type                `json:"type"`
	Match       map[string]any             `json:"match,omitempty"`
	Predicate   func(*entity.Entity) bool  `json:"-"`
	PredicateID string                     `json:"predicate_id,omitempty"`
}

// Matches reports whether the entity satisfies the filter.
func (f Filter) Matches(e *entity.Entity) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	for name, want := range f.Match {
		got := fieldValue(e, name)
		if cursor.Compare(cursor.Normalize(got), cursor.Normalize(want)) != 0 {
			return false
		}
	}
	if f.Predicate != nil && !f.Predicate(e) {
		return false
	}
	return true
}

// hashInto mixes the filter's identity into a fingerprint hash. Match keys
// are visited in sorted order so equal filters hash equally.
func (f Filter) hashInto(h interface{ Write([]byte) (int, error) }) {
	fmt.Fprintf(h, "t|%s;", f.Type)
	keys := make([]string, 0, len(f.Match))
	for k := range f.Match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "m|%s=%v;", k, cursor.Normalize(f.Match[k]))
	}
	if f.PredicateID != "" {
		fmt.Fprintf(h, "p|%s;", f.PredicateID)
	}
}

// Edge is one node of a connection page with the cursor of its position.
type Edge struct {
	Node   *entity.Entity `json:"node"`
	Cursor string         `json:"cursor"`
}

// PageInfo carries the page boundary metadata of a connection.
type PageInfo struct {
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor,omitempty"`
	EndCursor       *string `json:"endCursor,omitempty"`
}

// Connection is an ordered page of edges plus page metadata.
type Connection struct {
	Edges      []Edge   `json:"edges"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount"`
}

// NodeIDs returns the ordered entity ids of the page. Cached pages store
// these references rather than entity copies.
func (c *Connection) NodeIDs() []string {
	ids := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		ids[i] = e.Node.ID
	}
	return ids
}

// Params are the arguments of a connection query.
type Params struct {
	Filter Filter   `json:"filter"`
	Sort   SortSpec `json:"sort"`
	After  *string  `json:"after,omitempty"`
	Before *string  `json:"before,omitempty"`
	First  *int     `json:"first,omitempty"`
	Last   *int     `json:"last,omitempty"`
}

// Source is the only capability the resolver requires from persistence: a
// stable snapshot of all entities of a type. Implementations must guarantee
// that one List call observes a single consistent version of the store.
type Source interface {
	List(ctx context.Context, typ entity.Type) ([]*entity.Entity, error)
}
