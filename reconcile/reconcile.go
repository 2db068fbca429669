// Package reconcile implements the optimistic mutation reconciler.
//
// A dispatch applies a provisional effect to the cache immediately and
// returns a pending handle; the authoritative outcome arrives later over the
// transport. Confirmation atomically swaps the provisional identity for the
// real one (a cache relocation); failure or timeout rolls the provisional
// effect back so the cache is exactly as it was before dispatch. Each
// invocation is a state machine, Pending to Confirmed or Failed, keyed by a
// monotonic invocation id. Updates to one entity additionally form a chain:
// only the topmost unresolved update writes the cache when it resolves, and
// each resolution re-bases its successors' pre-images so a later rollback
// lands on the state the earlier resolution produced, never on a stale
// capture.
package reconcile

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c360/relaykit/cache"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/metric"
	"github.com/c360/relaykit/pkg/worker"
	"github.com/c360/relaykit/transport"
	"github.com/c360/relaykit/types/entity"
)

// resolvedHistory bounds the dedup window for at-least-once resolution
// delivery.
const resolvedHistory = 4096

// State is the lifecycle state of one mutation invocation.
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a mutation invocation.
type Result struct {
	State  State
	Entity *entity.Entity
	Err    error
}

// MutationSpec describes one mutation to dispatch.
type MutationSpec struct {
	// Op selects the store operation.
	Op transport.Op
	// Name labels the mutation for logs and metrics, e.g. "createProduct".
	Name string
	// Type is the entity type the mutation affects.
	Type entity.Type
	// EntityID targets an existing entity for updates and deletes.
	EntityID string
	// Fields carries the mutation input.
	Fields map[string]any
	// ExpectedVersion, when non-zero, makes an update conditional.
	ExpectedVersion uint64
	// IdempotencyKey, when set, rejects a second dispatch with the same key
	// while the first is still pending.
	IdempotencyKey string
	// Timeout overrides the reconciler's default per-invocation timeout.
	Timeout time.Duration
}

// Handle tracks one pending mutation invocation.
type Handle struct {
	invocationID  string
	provisionalID string

	done     chan struct{}
	canceled chan struct{}

	mu     sync.Mutex
	result Result
}

// InvocationID returns the invocation's unique, dispatch-ordered id.
func (h *Handle) InvocationID() string { return h.invocationID }

// ProvisionalID returns the provisional entity id for create dispatches,
// empty otherwise.
func (h *Handle) ProvisionalID() string { return h.provisionalID }

// Done closes when the invocation reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal outcome. Before resolution it reports
// StatePending.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Cancel abandons local interest in the outcome. The mutation still runs to
// completion and its cache effects still apply; only Wait stops blocking.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.canceled:
	default:
		close(h.canceled)
	}
}

// Wait blocks until the invocation resolves, the handle is canceled, or ctx
// expires.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-h.canceled:
		return Result{}, context.Canceled
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) finish(r Result) {
	h.mu.Lock()
	h.result = r
	h.mu.Unlock()
	close(h.done)
}

// pendingMutation is the reconciler's bookkeeping for one in-flight
// invocation.
type pendingMutation struct {
	handle       *Handle
	spec         MutationSpec
	preImage     *entity.Entity
	wroteOverlay bool
	// baseFrom is the invocation id whose resolution re-based preImage,
	// empty while preImage is still the dispatch-time capture.
	baseFrom     string
	timer        *time.Timer
	dispatchedAt time.Time
}

// Reconciler coordinates optimistic cache application with authoritative
// resolution. All methods are safe for concurrent use.
type Reconciler struct {
	cache     *cache.Store
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metric.Metrics

	defaultTimeout time.Duration
	pool           *worker.Pool[transport.Resolution]
	registry       *metric.MetricsRegistry
	workers        int
	queueSize      int

	mu            sync.Mutex
	entropy       *ulid.MonotonicEntropy
	pending       map[string]*pendingMutation
	keys          map[string]string
	// chains orders the pending update invocations per entity key so a
	// resolution knows whether its cache effect is still the topmost one.
	chains map[string][]string
	// applied records, per entity key with pending updates, the highest
	// invocation id whose confirmation wrote the cache.
	applied       map[string]string
	resolved      map[string]struct{}
	resolvedOrder []string
	started       bool

	wg sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger.With("component", "reconciler")
	}
}

// WithMetrics enables core metric tracking.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithDefaultTimeout sets the per-invocation timeout applied when a
// MutationSpec carries none. A timed-out invocation fails and rolls back;
// there is no unknown outcome state.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithWorkers sizes the resolution delivery pool.
func WithWorkers(workers, queueSize int) Option {
	return func(r *Reconciler) {
		r.workers = workers
		r.queueSize = queueSize
	}
}

// WithMetricsRegistry registers the resolution pool's queue and throughput
// metrics with the given registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(r *Reconciler) {
		r.registry = registry
	}
}

// New creates a Reconciler over the given cache and transport.
func New(c *cache.Store, tr transport.Transport, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:          c,
		transport:      tr,
		logger:         slog.Default().With("component", "reconciler"),
		defaultTimeout: 10 * time.Second,
		workers:        2,
		queueSize:      128,
		entropy:        ulid.Monotonic(crand.Reader, 0),
		pending:        make(map[string]*pendingMutation),
		keys:           make(map[string]string),
		chains:         make(map[string][]string),
		applied:        make(map[string]string),
		resolved:       make(map[string]struct{}, resolvedHistory),
	}
	for _, opt := range opts {
		opt(r)
	}

	var poolOpts []worker.Option[transport.Resolution]
	if r.registry != nil {
		poolOpts = append(poolOpts,
			worker.WithMetricsRegistry[transport.Resolution](r.registry, "reconciler_resolutions"))
	}
	r.pool = worker.NewPool(r.workers, r.queueSize, r.process, poolOpts...)
	return r
}

// Start begins consuming resolution notifications. Must be called before
// Dispatch.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Reconciler", "Start", "already started")
	}
	r.started = true
	r.mu.Unlock()

	if err := r.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Reconciler", "Start", "start resolution pool")
	}

	r.wg.Add(1)
	go r.consume()
	return nil
}

// Stop drains the resolution pool. The transport must be closed first so the
// resolution stream ends.
func (r *Reconciler) Stop(timeout time.Duration) error {
	r.wg.Wait()
	if err := r.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Reconciler", "Stop", "stop resolution pool")
	}
	return nil
}

func (r *Reconciler) consume() {
	defer r.wg.Done()
	for res := range r.transport.Resolutions() {
		if err := r.pool.Submit(res); err != nil {
			// A full pool must not lose an authoritative outcome.
			r.logger.Warn("resolution pool saturated, applying inline",
				"invocation_id", res.InvocationID)
			_ = r.process(context.Background(), res)
		}
	}
}

func (r *Reconciler) process(_ context.Context, res transport.Resolution) error {
	if res.Status == transport.StatusConfirmed {
		r.complete(res.InvocationID, res.Entity, nil)
	} else {
		r.complete(res.InvocationID, nil, transport.ResolutionError(res))
	}
	return nil
}

// Dispatch applies the mutation's provisional effect to the cache and sends
// the request. It returns immediately with a pending handle; resolution is
// delivered asynchronously to the handle and to every cache subscriber of
// the affected entries.
//
// For create mutations, provisional must be a pending entity with a
// provisional id; it becomes visible to all cache readers before Dispatch
// returns. Dispatch order equals provisional visibility order. For updates,
// provisional optionally carries the optimistic overlay under the real id.
// Deletes take no provisional entity.
func (r *Reconciler) Dispatch(ctx context.Context, spec MutationSpec, provisional *entity.Entity) (*Handle, error) {
	if err := validate(spec, provisional); err != nil {
		return nil, err
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrNotStarted, "Reconciler", "Dispatch", "reconciler not started")
	}
	if spec.IdempotencyKey != "" {
		if other, exists := r.keys[spec.IdempotencyKey]; exists {
			r.mu.Unlock()
			return nil, errors.WrapInvalid(errors.ErrDuplicateMutation, "Reconciler", "Dispatch",
				fmt.Sprintf("key %q already pending as invocation %s", spec.IdempotencyKey, other))
		}
	}

	invocationID := ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
	h := &Handle{
		invocationID: invocationID,
		done:         make(chan struct{}),
		canceled:     make(chan struct{}),
	}
	p := &pendingMutation{handle: h, spec: spec, dispatchedAt: time.Now()}

	// The provisional effect is applied while holding the dispatch lock so
	// that invocations become visible in exactly dispatch order.
	switch spec.Op {
	case transport.OpCreate:
		h.provisionalID = provisional.ID
		if err := r.cache.Write(provisional); err != nil {
			r.mu.Unlock()
			return nil, errors.Wrap(err, "Reconciler", "Dispatch", "apply provisional entity")
		}
		p.wroteOverlay = true
	case transport.OpUpdate:
		if pre, ok := r.cache.Read(spec.Type, spec.EntityID); ok {
			p.preImage = pre
		}
		if provisional != nil {
			if err := r.cache.Write(provisional); err != nil {
				r.mu.Unlock()
				return nil, errors.Wrap(err, "Reconciler", "Dispatch", "apply optimistic overlay")
			}
			p.wroteOverlay = true
		}
		k := entityKey(spec.Type, spec.EntityID)
		r.chains[k] = append(r.chains[k], invocationID)
	}

	r.pending[invocationID] = p
	if spec.IdempotencyKey != "" {
		r.keys[spec.IdempotencyKey] = invocationID
	}
	p.timer = time.AfterFunc(timeout, func() {
		r.complete(invocationID, nil,
			errors.WrapTransient(errors.ErrMutationTimeout, "Reconciler", "Dispatch",
				fmt.Sprintf("invocation %s exceeded %s", invocationID, timeout)))
	})
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MutationsPending.Inc()
	}
	r.logger.Debug("dispatched mutation",
		"invocation_id", invocationID, "name", spec.Name, "op", spec.Op, "type", spec.Type)

	go func() {
		req := transport.MutationRequest{
			InvocationID:    invocationID,
			IdempotencyKey:  spec.IdempotencyKey,
			Op:              spec.Op,
			Name:            spec.Name,
			Type:            spec.Type,
			EntityID:        spec.EntityID,
			Fields:          spec.Fields,
			ExpectedVersion: spec.ExpectedVersion,
		}
		if err := r.transport.Send(ctx, req); err != nil {
			r.complete(invocationID, nil, errors.Wrap(err, "Reconciler", "Dispatch", "send mutation"))
		}
	}()

	return h, nil
}

func validate(spec MutationSpec, provisional *entity.Entity) error {
	if spec.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch", "entity type is required")
	}
	switch spec.Op {
	case transport.OpCreate:
		if provisional == nil {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"create requires a provisional entity")
		}
		if !provisional.Pending || !entity.IsProvisionalID(provisional.ID) {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"create requires a pending entity with a provisional id")
		}
	case transport.OpUpdate:
		if spec.EntityID == "" {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"update requires an entity id")
		}
		if provisional != nil && provisional.ID != spec.EntityID {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"optimistic overlay must target the mutated entity id")
		}
	case transport.OpDelete:
		if spec.EntityID == "" {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"delete requires an entity id")
		}
		if provisional != nil {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
				"delete takes no provisional entity")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Reconciler", "Dispatch",
			fmt.Sprintf("unknown op %q", spec.Op))
	}
	return nil
}

// complete moves one invocation to a terminal state exactly once. Duplicate
// resolutions (at-least-once delivery) and resolutions racing a timeout are
// dropped here: whichever outcome arrives first for an invocation id wins.
func (r *Reconciler) complete(invocationID string, confirmed *entity.Entity, failure error) {
	r.mu.Lock()
	if _, dup := r.resolved[invocationID]; dup {
		r.mu.Unlock()
		r.logger.Debug("dropping duplicate resolution", "invocation_id", invocationID)
		return
	}
	p, ok := r.pending[invocationID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("dropping resolution for unknown invocation", "invocation_id", invocationID)
		return
	}
	delete(r.pending, invocationID)
	if p.spec.IdempotencyKey != "" {
		delete(r.keys, p.spec.IdempotencyKey)
	}
	r.markResolvedLocked(invocationID)

	// The outcome is applied under the dispatch lock so cache effects and
	// per-entity chain bookkeeping stay ordered against new dispatches.
	result := r.applyOutcomeLocked(invocationID, p, confirmed, failure)
	r.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.handle.finish(result)

	outcome := result.State.String()
	if r.metrics != nil {
		r.metrics.MutationsPending.Dec()
		r.metrics.MutationsTotal.WithLabelValues(p.spec.Name, outcome).Inc()
		r.metrics.MutationDuration.WithLabelValues(p.spec.Name).
			Observe(time.Since(p.dispatchedAt).Seconds())
	}
	if result.Err != nil {
		r.logger.Warn("mutation failed",
			"invocation_id", invocationID, "name", p.spec.Name, "error", result.Err)
	} else {
		r.logger.Debug("mutation confirmed",
			"invocation_id", invocationID, "name", p.spec.Name)
	}
}

func entityKey(typ entity.Type, id string) string {
	return fmt.Sprintf("%s:%s", typ, id)
}

// applyOutcomeLocked applies the terminal cache effect for one invocation.
// Only this invocation's provisional state is touched, so out-of-order
// resolutions cannot undo another invocation's optimistic effect. Callers
// must hold r.mu.
func (r *Reconciler) applyOutcomeLocked(invocationID string, p *pendingMutation, confirmed *entity.Entity, failure error) Result {
	spec := p.spec

	if spec.Op == transport.OpUpdate {
		return r.applyUpdateOutcomeLocked(invocationID, p, confirmed, failure)
	}

	if failure == nil {
		switch spec.Op {
		case transport.OpCreate:
			if err := r.cache.Relocate(spec.Type, p.handle.provisionalID, confirmed); err != nil {
				return Result{State: StateFailed,
					Err: errors.Wrap(err, "Reconciler", "Resolve", "relocate confirmed entity")}
			}
		case transport.OpDelete:
			r.cache.Evict(spec.Type, spec.EntityID)
			// A pending update for this entity must not resurrect it on
			// rollback.
			k := entityKey(spec.Type, spec.EntityID)
			if _, busy := r.chains[k]; busy {
				r.applied[k] = invocationID
			}
		}
		return Result{State: StateConfirmed, Entity: confirmed}
	}

	if spec.Op == transport.OpCreate {
		r.cache.Evict(spec.Type, p.handle.provisionalID)
	}
	return Result{State: StateFailed, Err: failure}
}

// applyUpdateOutcomeLocked resolves one update against the entity's chain of
// pending updates. The cache is written only when this invocation's effect
// is still the topmost one for the entity: no later pending update has an
// overlay above it, and no later-dispatched invocation has already confirmed
// (invocation ids are dispatch-ordered ULIDs, so a string compare against
// the applied high-water mark decides that). Otherwise the outcome is
// recorded by re-basing the pre-images of the updates dispatched after it,
// so their eventual rollbacks land on the state this resolution produced
// rather than on one it invalidated.
func (r *Reconciler) applyUpdateOutcomeLocked(invocationID string, p *pendingMutation, confirmed *entity.Entity, failure error) Result {
	k := entityKey(p.spec.Type, p.spec.EntityID)
	chain := r.chains[k]
	ceiling := r.applied[k]

	idx := -1
	for i, id := range chain {
		if id == invocationID {
			idx = i
			break
		}
	}

	overlayAbove := false
	var successors []string
	if idx >= 0 {
		successors = chain[idx+1:]
		for _, id := range successors {
			if later := r.pending[id]; later != nil && later.wroteOverlay {
				overlayAbove = true
				break
			}
		}
		chain = append(chain[:idx], chain[idx+1:]...)
		if len(chain) == 0 {
			delete(r.chains, k)
			delete(r.applied, k)
		} else {
			r.chains[k] = chain
		}
	}
	topmost := !overlayAbove && invocationID > ceiling

	if failure == nil {
		if confirmed != nil {
			settled := confirmed.Clone()
			settled.Pending = false
			r.rebaseLocked(successors, invocationID, settled, invocationID)
			if topmost {
				if err := r.cache.Replace(confirmed); err != nil {
					return Result{State: StateFailed,
						Err: errors.Wrap(err, "Reconciler", "Resolve", "apply authoritative entity")}
				}
				if len(chain) > 0 {
					r.applied[k] = invocationID
				}
			}
		}
		return Result{State: StateConfirmed, Entity: confirmed}
	}

	// The failed invocation's effect vanishes from the entity's history:
	// whoever captured a pre-image on top of it inherits its base instead.
	r.rebaseLocked(successors, invocationID, p.preImage, p.baseFrom)
	if topmost && p.wroteOverlay {
		if p.preImage != nil {
			if err := r.cache.Replace(p.preImage); err != nil {
				r.logger.Error("rollback failed", "entity_id", p.spec.EntityID, "error", err)
			}
		} else {
			r.cache.Evict(p.spec.Type, p.spec.EntityID)
		}
	}
	return Result{State: StateFailed, Err: failure}
}

// rebaseLocked rewrites the pre-images of the pending updates dispatched
// after a resolved invocation. Entries up to and including the next
// overlay-writer captured their pre-image from the resolved invocation's
// effect, so they take the new base; entries beyond that point are relative
// to the overlay above them and stay untouched. The baseFrom guard keeps an
// older resolution from overwriting a base already set by a newer one.
// Callers must hold r.mu.
func (r *Reconciler) rebaseLocked(successors []string, invocationID string, preImage *entity.Entity, baseFrom string) {
	for _, id := range successors {
		next := r.pending[id]
		if next == nil {
			continue
		}
		if next.baseFrom < invocationID {
			if preImage != nil {
				next.preImage = preImage.Clone()
			} else {
				next.preImage = nil
			}
			next.baseFrom = baseFrom
		}
		if next.wroteOverlay {
			return
		}
	}
}

// markResolvedLocked records an invocation id in the bounded dedup window.
func (r *Reconciler) markResolvedLocked(invocationID string) {
	r.resolved[invocationID] = struct{}{}
	r.resolvedOrder = append(r.resolvedOrder, invocationID)
	if len(r.resolvedOrder) > resolvedHistory {
		oldest := r.resolvedOrder[0]
		r.resolvedOrder = r.resolvedOrder[1:]
		delete(r.resolved, oldest)
	}
}

// PendingCount returns the number of unresolved invocations.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
