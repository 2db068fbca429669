package graphql

import (
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/c360/relaykit/connection"
	"github.com/c360/relaykit/types/entity"
)

// shapeConnection renders a connection honoring the query's selection set:
// only requested fields appear in the response.
func shapeConnection(conn *connection.Connection, sel ast.SelectionSet) map[string]any {
	out := make(map[string]any)
	for _, s := range sel {
		field, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		switch field.Name {
		case "edges":
			edges := make([]any, 0, len(conn.Edges))
			for _, edge := range conn.Edges {
				edges = append(edges, shapeEdge(edge, field.SelectionSet))
			}
			out[field.Alias] = edges
		case "pageInfo":
			out[field.Alias] = shapePageInfo(conn.PageInfo, field.SelectionSet)
		case "totalCount":
			out[field.Alias] = conn.TotalCount
		case "__typename":
			out[field.Alias] = "Connection"
		}
	}
	return out
}

func shapeEdge(edge connection.Edge, sel ast.SelectionSet) map[string]any {
	out := make(map[string]any)
	for _, s := range sel {
		field, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		switch field.Name {
		case "node":
			out[field.Alias] = shapeEntity(edge.Node, field.SelectionSet)
		case "cursor":
			out[field.Alias] = edge.Cursor
		case "__typename":
			out[field.Alias] = "Edge"
		}
	}
	return out
}

func shapePageInfo(info connection.PageInfo, sel ast.SelectionSet) map[string]any {
	out := make(map[string]any)
	for _, s := range sel {
		field, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		switch field.Name {
		case "hasNextPage":
			out[field.Alias] = info.HasNextPage
		case "hasPreviousPage":
			out[field.Alias] = info.HasPreviousPage
		case "startCursor":
			out[field.Alias] = strPtrValue(info.StartCursor)
		case "endCursor":
			out[field.Alias] = strPtrValue(info.EndCursor)
		case "__typename":
			out[field.Alias] = "PageInfo"
		}
	}
	return out
}

// shapeEntity renders an entity. An empty selection set (delete responses,
// websocket payloads) renders every field.
func shapeEntity(e *entity.Entity, sel ast.SelectionSet) map[string]any {
	if e == nil {
		return nil
	}
	if len(sel) == 0 {
		return entityMap(e)
	}
	full := entityMap(e)
	out := make(map[string]any)
	for _, s := range sel {
		field, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		if field.Name == "__typename" {
			out[field.Alias] = "Entity"
			continue
		}
		if v, ok := full[field.Name]; ok {
			out[field.Alias] = v
		}
	}
	return out
}

func entityMap(e *entity.Entity) map[string]any {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"version":   e.Version,
		"pending":   e.Pending,
		"fields":    fields,
		"createdAt": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt": e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func strPtrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
