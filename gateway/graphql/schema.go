package graphql

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// schemaSDL is the gateway's GraphQL schema. Every query root field is a
// Relay-style connection over one entity type; every mutation goes through
// the optimistic reconciler.
const schemaSDL = `
scalar JSON
scalar Cursor

enum SortDirection {
  ASC
  DESC
}

input SortFieldInput {
  field: String!
  direction: SortDirection! = ASC
}

type PageInfo {
  hasNextPage: Boolean!
  hasPreviousPage: Boolean!
  startCursor: Cursor
  endCursor: Cursor
}

type Entity {
  id: ID!
  type: String!
  version: Int!
  pending: Boolean!
  fields: JSON!
  createdAt: String!
  updatedAt: String!
}

type Edge {
  node: Entity!
  cursor: Cursor!
}

type Connection {
  edges: [Edge!]!
  pageInfo: PageInfo!
  totalCount: Int!
}

type Query {
  products(match: JSON, sort: [SortFieldInput!], after: Cursor, before: Cursor, first: Int, last: Int): Connection!
  customers(match: JSON, sort: [SortFieldInput!], after: Cursor, before: Cursor, first: Int, last: Int): Connection!
  orders(match: JSON, sort: [SortFieldInput!], after: Cursor, before: Cursor, first: Int, last: Int): Connection!
}

type Mutation {
  createProduct(fields: JSON!, idempotencyKey: String): Entity!
  updateProduct(id: ID!, fields: JSON!, expectedVersion: Int): Entity!
  deleteProduct(id: ID!): Boolean!

  createCustomer(fields: JSON!, idempotencyKey: String): Entity!
  updateCustomer(id: ID!, fields: JSON!, expectedVersion: Int): Entity!
  deleteCustomer(id: ID!): Boolean!

  createOrder(fields: JSON!, idempotencyKey: String): Entity!
  updateOrder(id: ID!, fields: JSON!, expectedVersion: Int): Entity!
  deleteOrder(id: ID!): Boolean!
}
`

// loadSchema parses the SDL once at startup.
func loadSchema() (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "relaykit.graphql", Input: schemaSDL})
	if err != nil {
		return nil, err
	}
	return schema, nil
}
