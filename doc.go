// Package relaykit provides a GraphQL gateway for cursor-based pagination
// and optimistic mutation reconciliation over a normalized entity cache.
//
// # Architecture
//
// RelayKit sits between GraphQL clients and an authoritative entity store:
//
//	┌─────────────────────────────────────┐
//	│        GraphQL Gateway              │  queries, mutations,
//	│  (HTTP, websocket subscriptions)    │  playground, metrics
//	└─────────────────────────────────────┘
//	           ↓ delegates to
//	┌─────────────────────────────────────┐
//	│         Coordinator                 │  authorization,
//	│  (resolver + reconciler + cache)    │  page keys, overlays
//	└─────────────────────────────────────┘
//	           ↓ mutates via
//	┌─────────────────────────────────────┐
//	│         Transport                   │  in-process or NATS
//	│    (request → resolution)           │  request/resolution
//	└─────────────────────────────────────┘
//
// Reads resolve Relay-style connections: opaque cursors bound to their
// filter and sort configuration, forward and backward pagination, and a
// look-ahead hasNextPage. Resolved pages land in the cache as id lists over
// normalized entities, so an entity update is visible in every page that
// references it.
//
// Writes are optimistic. Dispatching a mutation puts a provisional entity
// in the cache immediately; the transport carries the request to the
// authoritative store and returns a resolution. Confirmation atomically
// relocates the provisional entity to its server-assigned identity;
// failure or timeout rolls the cache back to its pre-dispatch state.
// Resolutions are delivered at least once and deduplicated by invocation
// id, and out-of-order resolutions only ever affect their own mutation.
//
// # Packages
//
// Protocol core:
//   - cursor: opaque cursor encoding bound to a query fingerprint
//   - connection: Relay connection resolution over an entity source
//   - cache: normalized entity cache with pages and subscriptions
//   - reconcile: optimistic mutation lifecycle and rollback
//   - coordinator: ties resolver, reconciler, and cache together
//
// Transports:
//   - transport: mutation request and resolution wire types
//   - transport/local: in-process transport against a store
//   - transport/natsmut: transport and store-side handler over NATS
//
// Infrastructure:
//   - storage, storage/memstore: authoritative entity store
//   - gateway/graphql: HTTP server, executor, websocket event stream
//   - auth: bearer tokens and role policies
//   - config: YAML configuration with schema validation
//   - metric: Prometheus metrics
//   - errors: structured error handling
//   - pkg/retry, pkg/worker: retry policies and worker pools
//
// # Binary
//
// Build and run the gateway:
//
//	go build -o bin/relaykit ./cmd/relaykit
//	./bin/relaykit --config configs/relaykit.yaml
//
// With the default configuration the gateway serves the playground on
// :8080 against an in-process store, which is enough to exercise the full
// pagination and mutation protocol locally.
package relaykit
