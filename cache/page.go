package cache

import (
	"github.com/c360/relaykit/connection"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/types/entity"
)

// pageRef is the cached form of a connection page: ordered references into
// the normalized map plus the page metadata. Entity payloads are never
// duplicated here.
type pageRef struct {
	Type       entity.Type
	Edges      []edgeRef
	PageInfo   connection.PageInfo
	TotalCount int
}

// edgeRef pairs an entity reference with the cursor of its position.
type edgeRef struct {
	ID     string
	Cursor string
}

// WritePage normalizes a resolved connection into the cache under pageKey:
// every node is written into the normalized map and the page itself is
// stored as an ordered id list.
func (s *Store) WritePage(pageKey string, typ entity.Type, conn *connection.Connection) error {
	if conn == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Cache", "WritePage", "nil connection")
	}

	// Normalize nodes first so the page never references a missing entity.
	for _, edge := range conn.Edges {
		if err := s.Write(edge.Node); err != nil {
			return errors.Wrap(err, "Cache", "WritePage", "normalize page node")
		}
	}

	ref := &pageRef{
		Type:       typ,
		Edges:      make([]edgeRef, len(conn.Edges)),
		PageInfo:   conn.PageInfo,
		TotalCount: conn.TotalCount,
	}
	for i, edge := range conn.Edges {
		ref.Edges[i] = edgeRef{ID: edge.Node.ID, Cursor: edge.Cursor}
	}

	s.mu.Lock()
	s.pages[pageKey] = ref
	s.mu.Unlock()
	return nil
}

// ReadPage rebuilds a cached connection page by looking its references up in
// the normalized map, so a single entity update is visible in every page
// containing it. Returns false if no page is cached under pageKey.
func (s *Store) ReadPage(pageKey string) (*connection.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.pages[pageKey]
	if !ok {
		return nil, false
	}

	conn := &connection.Connection{
		Edges:      make([]connection.Edge, 0, len(ref.Edges)),
		PageInfo:   ref.PageInfo,
		TotalCount: ref.TotalCount,
	}
	for _, edge := range ref.Edges {
		e, ok := s.entities[key(ref.Type, edge.ID)]
		if !ok {
			// Evict keeps pages and the normalized map consistent, so a
			// reference can only dangle transiently; skip it.
			continue
		}
		conn.Edges = append(conn.Edges, connection.Edge{Node: e.Clone(), Cursor: edge.Cursor})
	}
	return conn, true
}

// DropPage removes a cached page. The normalized entities stay cached.
func (s *Store) DropPage(pageKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[pageKey]; !ok {
		return false
	}
	delete(s.pages, pageKey)
	return true
}
