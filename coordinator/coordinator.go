// Package coordinator wires the protocol pieces into one facade: queries go
// through the connection resolver and land in the cache, mutations go
// through the authorization gate into the reconciler.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/relaykit/auth"
	"github.com/c360/relaykit/cache"
	"github.com/c360/relaykit/connection"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/reconcile"
	"github.com/c360/relaykit/transport"
	"github.com/c360/relaykit/types/entity"
)

// Coordinator is the single entry point callers use: authorized connection
// queries and authorized optimistic mutations over one cache.
type Coordinator struct {
	resolver   *connection.Resolver
	reconciler *reconcile.Reconciler
	cache      *cache.Store
	transport  transport.Transport
	authorizer auth.Authorizer
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger.With("component", "coordinator")
	}
}

// WithAuthorizer sets the authorization predicate evaluated before every
// query and mutation. Defaults to allowing everything.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.authorizer = a
		}
	}
}

// New assembles a coordinator from its parts.
func New(
	resolver *connection.Resolver,
	reconciler *reconcile.Reconciler,
	cacheStore *cache.Store,
	tr transport.Transport,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		resolver:   resolver,
		reconciler: reconciler,
		cache:      cacheStore,
		transport:  tr,
		authorizer: auth.AllowAll{},
		logger:     slog.Default().With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start brings up the reconciler's resolution pipeline.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.reconciler.Start(ctx); err != nil {
		return errors.Wrap(err, "Coordinator", "Start", "start reconciler")
	}
	c.logger.Info("coordinator started")
	return nil
}

// Stop closes the transport and drains the reconciler. Shutdown steps run
// concurrently under one deadline.
func (c *Coordinator) Stop(timeout time.Duration) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := c.transport.Close(); err != nil {
			return errors.Wrap(err, "Coordinator", "Stop", "close transport")
		}
		return c.reconciler.Stop(timeout)
	})
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Coordinator", "Stop",
			"shutdown deadline exceeded")
	}
}

// Cache exposes the normalized cache for subscribers.
func (c *Coordinator) Cache() *cache.Store { return c.cache }

// Query resolves a connection for the identity and normalizes the resulting
// page into the cache under a deterministic page key.
func (c *Coordinator) Query(ctx context.Context, identity auth.Identity, operation string, params connection.Params) (*connection.Connection, error) {
	if err := c.authorizer.Authorize(operation, identity); err != nil {
		return nil, errors.Wrap(err, "Coordinator", "Query", "authorize")
	}

	conn, err := c.resolver.Resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := c.cache.WritePage(PageKey(params), params.Filter.Type, conn); err != nil {
		return nil, errors.Wrap(err, "Coordinator", "Query", "cache page")
	}
	return conn, nil
}

// Mutate authorizes and dispatches one optimistic mutation. For creates it
// synthesizes the provisional entity from the spec's fields.
func (c *Coordinator) Mutate(ctx context.Context, identity auth.Identity, spec reconcile.MutationSpec) (*reconcile.Handle, error) {
	if err := c.authorizer.Authorize(spec.Name, identity); err != nil {
		return nil, errors.Wrap(err, "Coordinator", "Mutate", "authorize")
	}

	var provisional *entity.Entity
	switch spec.Op {
	case transport.OpCreate:
		provisional = entity.NewProvisional(spec.Type, spec.Fields)
	case transport.OpUpdate:
		if cached, ok := c.cache.Read(spec.Type, spec.EntityID); ok {
			cached.MergeFields(spec.Fields)
			provisional = cached
		}
	}

	return c.reconciler.Dispatch(ctx, spec, provisional)
}

// MutateAndWait dispatches and blocks until resolution, returning the
// confirmed entity or the failure.
func (c *Coordinator) MutateAndWait(ctx context.Context, identity auth.Identity, spec reconcile.MutationSpec) (*entity.Entity, error) {
	h, err := c.Mutate(ctx, identity, spec)
	if err != nil {
		return nil, err
	}
	result, err := h.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Coordinator", "Mutate", "await resolution")
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Entity, nil
}

// PageKey derives a stable cache key for a set of connection parameters.
// Identical queries share a cached page; any change to filter, sort, or
// pagination bounds yields a distinct key.
func PageKey(params connection.Params) string {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s/unkeyed", params.Filter.Type)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s/%s", params.Filter.Type, hex.EncodeToString(sum[:8]))
}
