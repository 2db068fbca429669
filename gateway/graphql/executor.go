// Package graphql serves the pagination and mutation protocol over a
// GraphQL HTTP endpoint. Queries resolve Relay-style connections, mutations
// dispatch through the optimistic reconciler, and a websocket endpoint
// streams cache events to reactive clients.
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/relaykit/auth"
	"github.com/c360/relaykit/connection"
	"github.com/c360/relaykit/coordinator"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/reconcile"
	"github.com/c360/relaykit/transport"
	"github.com/c360/relaykit/types/entity"
)

// Request is one GraphQL HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is the GraphQL HTTP response body.
type Response struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// queryTypes maps connection root fields to the entity type they page over.
var queryTypes = map[string]entity.Type{
	"products":  entity.TypeProduct,
	"customers": entity.TypeCustomer,
	"orders":    entity.TypeOrder,
}

// mutationOps maps mutation root fields to the store operation and entity
// type they target.
var mutationOps = map[string]struct {
	op  transport.Op
	typ entity.Type
}{
	"createProduct":  {transport.OpCreate, entity.TypeProduct},
	"updateProduct":  {transport.OpUpdate, entity.TypeProduct},
	"deleteProduct":  {transport.OpDelete, entity.TypeProduct},
	"createCustomer": {transport.OpCreate, entity.TypeCustomer},
	"updateCustomer": {transport.OpUpdate, entity.TypeCustomer},
	"deleteCustomer": {transport.OpDelete, entity.TypeCustomer},
	"createOrder":    {transport.OpCreate, entity.TypeOrder},
	"updateOrder":    {transport.OpUpdate, entity.TypeOrder},
	"deleteOrder":    {transport.OpDelete, entity.TypeOrder},
}

// Executor parses, validates, and resolves GraphQL documents against the
// coordinator.
type Executor struct {
	schema *ast.Schema
	coord  *coordinator.Coordinator
	logger *slog.Logger
}

// NewExecutor builds an executor over the coordinator.
func NewExecutor(coord *coordinator.Coordinator, logger *slog.Logger) (*Executor, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Executor", "NewExecutor",
			fmt.Sprintf("load schema: %v", err))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		schema: schema,
		coord:  coord,
		logger: logger.With("component", "graphql-executor"),
	}, nil
}

// Execute runs one GraphQL request for the given identity.
func (e *Executor) Execute(ctx context.Context, identity auth.Identity, req Request) Response {
	doc, listErr := gqlparser.LoadQuery(e.schema, req.Query)
	if len(listErr) > 0 {
		return Response{Errors: listErr}
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return Response{Errors: gqlerror.List{mapError(
			errors.WrapInvalid(errors.ErrInvalidArgument, "Executor", "Execute",
				fmt.Sprintf("operation %q not found", req.OperationName)), "execute")}}
	}

	switch op.Operation {
	case ast.Query:
		return e.run(ctx, identity, op, req.Variables, e.resolveQueryField)
	case ast.Mutation:
		return e.run(ctx, identity, op, req.Variables, e.resolveMutationField)
	default:
		return Response{Errors: gqlerror.List{mapError(
			errors.WrapInvalid(errors.ErrInvalidArgument, "Executor", "Execute",
				"subscriptions are served over the websocket endpoint"), "execute")}}
	}
}

type fieldResolver func(ctx context.Context, identity auth.Identity, field *ast.Field, vars map[string]any) (any, error)

func (e *Executor) run(ctx context.Context, identity auth.Identity, op *ast.OperationDefinition, vars map[string]any, resolve fieldResolver) Response {
	resp := Response{Data: make(map[string]any)}
	for _, sel := range op.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		started := time.Now()
		value, err := resolve(ctx, identity, field, vars)
		if err != nil {
			e.logger.Warn("field resolution failed",
				"field", field.Name, "duration", time.Since(started), "error", err)
			resp.Errors = append(resp.Errors, mapError(err, field.Name))
			resp.Data[field.Alias] = nil
			continue
		}
		resp.Data[field.Alias] = value
	}
	return resp
}

func (e *Executor) resolveQueryField(ctx context.Context, identity auth.Identity, field *ast.Field, vars map[string]any) (any, error) {
	typ, ok := queryTypes[field.Name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Executor", "Query",
			fmt.Sprintf("unknown query field %q", field.Name))
	}

	params, err := buildParams(typ, field.ArgumentMap(vars))
	if err != nil {
		return nil, err
	}

	conn, err := e.coord.Query(ctx, identity, field.Name, params)
	if err != nil {
		return nil, err
	}
	return shapeConnection(conn, field.SelectionSet), nil
}

func (e *Executor) resolveMutationField(ctx context.Context, identity auth.Identity, field *ast.Field, vars map[string]any) (any, error) {
	target, ok := mutationOps[field.Name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Executor", "Mutate",
			fmt.Sprintf("unknown mutation field %q", field.Name))
	}

	args := field.ArgumentMap(vars)
	spec := reconcile.MutationSpec{
		Op:   target.op,
		Name: field.Name,
		Type: target.typ,
	}
	if fields, ok := args["fields"].(map[string]any); ok {
		spec.Fields = fields
	}
	if id, ok := args["id"].(string); ok {
		spec.EntityID = id
	}
	if key, ok := args["idempotencyKey"].(string); ok {
		spec.IdempotencyKey = key
	}
	if v, ok := toInt(args["expectedVersion"]); ok && v > 0 {
		spec.ExpectedVersion = uint64(v)
	}

	confirmed, err := e.coord.MutateAndWait(ctx, identity, spec)
	if err != nil {
		return nil, err
	}
	if target.op == transport.OpDelete {
		return true, nil
	}
	return shapeEntity(confirmed, field.SelectionSet), nil
}

// buildParams converts GraphQL arguments to resolver parameters.
func buildParams(typ entity.Type, args map[string]any) (connection.Params, error) {
	params := connection.Params{Filter: connection.Filter{Type: typ}}

	if match, ok := args["match"].(map[string]any); ok && len(match) > 0 {
		params.Filter.Match = match
	}
	if raw, ok := args["sort"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sf := connection.SortField{Direction: connection.Ascending}
			if name, ok := m["field"].(string); ok {
				sf.Field = name
			}
			if dir, ok := m["direction"].(string); ok && dir == string(connection.Descending) {
				sf.Direction = connection.Descending
			}
			if sf.Field == "" {
				return params, errors.WrapInvalid(errors.ErrInvalidArgument, "Executor", "Query",
					"sort entries require a field name")
			}
			params.Sort = append(params.Sort, sf)
		}
	}
	if after, ok := args["after"].(string); ok {
		params.After = &after
	}
	if before, ok := args["before"].(string); ok {
		params.Before = &before
	}
	if v, ok := toInt(args["first"]); ok {
		first := int(v)
		params.First = &first
	}
	if v, ok := toInt(args["last"]); ok {
		last := int(v)
		params.Last = &last
	}
	return params, nil
}

// toInt normalizes the numeric forms GraphQL coercion can produce.
func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
