package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/relaykit/cache"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/metric"
	"github.com/c360/relaykit/storage/memstore"
	"github.com/c360/relaykit/transport"
	"github.com/c360/relaykit/transport/local"
	"github.com/c360/relaykit/types/entity"
)

// scriptedTransport lets a test control exactly which resolutions arrive and
// in what order.
type scriptedTransport struct {
	mu          sync.Mutex
	sent        []transport.MutationRequest
	sendErr     error
	resolutions chan transport.Resolution
	closeOnce   sync.Once
}

func newScripted() *scriptedTransport {
	return &scriptedTransport{resolutions: make(chan transport.Resolution, 16)}
}

func (t *scriptedTransport) Send(_ context.Context, req transport.MutationRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		err := t.sendErr
		t.sendErr = nil
		return err
	}
	t.sent = append(t.sent, req)
	return nil
}

func (t *scriptedTransport) Resolutions() <-chan transport.Resolution { return t.resolutions }

func (t *scriptedTransport) Close() error {
	t.closeOnce.Do(func() { close(t.resolutions) })
	return nil
}

func (t *scriptedTransport) resolve(res transport.Resolution) { t.resolutions <- res }

func startReconciler(t *testing.T, tr transport.Transport, opts ...Option) (*Reconciler, *cache.Store) {
	t.Helper()
	c := cache.NewStore()
	r := New(c, tr, opts...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		tr.Close()
		_ = r.Stop(time.Second)
	})
	return r, c
}

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestCreateConfirmRelocates(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	prov := entity.NewProvisional(entity.TypeProduct, map[string]any{"name": "keyboard"})
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op:     transport.OpCreate,
		Name:   "createProduct",
		Type:   entity.TypeProduct,
		Fields: map[string]any{"name": "keyboard"},
	}, prov)
	require.NoError(t, err)

	// The provisional entity is visible, pending, before resolution
	got, ok := c.Read(entity.TypeProduct, prov.ID)
	require.True(t, ok)
	assert.True(t, got.Pending)
	assert.Equal(t, StatePending, h.Result().State)

	real := entity.New(entity.TypeProduct, "p-real", map[string]any{"name": "keyboard"})
	real.Version = 1
	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(),
		Status:       transport.StatusConfirmed,
		Entity:       real,
	})

	res := wait(t, h)
	assert.Equal(t, StateConfirmed, res.State)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "p-real", res.Entity.ID)

	// Identity swap: old id gone, confirmed entity present and settled
	_, ok = c.Read(entity.TypeProduct, prov.ID)
	assert.False(t, ok)
	got, ok = c.Read(entity.TypeProduct, "p-real")
	require.True(t, ok)
	assert.False(t, got.Pending)
}

func TestCreateFailureRestoresPreDispatchState(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	require.NoError(t, c.Write(entity.New(entity.TypeProduct, "p1", map[string]any{"price": 1})))
	before := c.Len()

	prov := entity.NewProvisional(entity.TypeProduct, nil)
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct,
	}, prov)
	require.NoError(t, err)
	assert.Equal(t, before+1, c.Len())

	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(),
		Status:       transport.StatusFailed,
		Code:         transport.CodeInvalid,
		Error:        "rejected",
	})

	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, errors.ErrInvalidData)

	// Exactly the pre-dispatch state: no residual provisional entity
	assert.Equal(t, before, c.Len())
	_, ok := c.Read(entity.TypeProduct, prov.ID)
	assert.False(t, ok)
}

func TestIdempotencyKeyRejectsDuplicateWhilePending(t *testing.T) {
	store := memstore.New()
	tr := local.New(store, local.WithDelay(50*time.Millisecond))
	r, c := startReconciler(t, tr)

	spec := MutationSpec{
		Op:             transport.OpCreate,
		Name:           "createProduct",
		Type:           entity.TypeProduct,
		Fields:         map[string]any{"name": "keyboard"},
		IdempotencyKey: "k1",
	}

	h, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, spec.Fields))
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, spec.Fields))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateMutation)

	res := wait(t, h)
	require.Equal(t, StateConfirmed, res.State)

	// Exactly one new entity, in store and in cache
	listed, err := store.List(context.Background(), entity.TypeProduct)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, 1, c.Len())

	// The key frees up once resolved
	h2, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, spec.Fields))
	require.NoError(t, err)
	wait(t, h2)
}

func TestConcurrentDispatchesWithoutKeyAreIndependent(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	spec := MutationSpec{Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct}
	h1, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, nil))
	require.NoError(t, err)
	h2, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, nil))
	require.NoError(t, err)

	assert.NotEqual(t, h1.ProvisionalID(), h2.ProvisionalID())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, r.PendingCount())
}

func TestOutOfOrderResolutionsAreIsolated(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	spec := MutationSpec{Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct}
	hA, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, map[string]any{"n": "a"}))
	require.NoError(t, err)
	hB, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, map[string]any{"n": "b"}))
	require.NoError(t, err)

	// Dispatch order A then B, invocation ids are dispatch-ordered
	assert.Less(t, hA.InvocationID(), hB.InvocationID())

	// B confirms before A resolves at all
	realB := entity.New(entity.TypeProduct, "p-b", map[string]any{"n": "b"})
	tr.resolve(transport.Resolution{
		InvocationID: hB.InvocationID(), Status: transport.StatusConfirmed, Entity: realB,
	})
	require.Equal(t, StateConfirmed, wait(t, hB).State)

	// A's late failure rolls back only A's provisional entity
	tr.resolve(transport.Resolution{
		InvocationID: hA.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeInternal, Error: "boom",
	})
	require.Equal(t, StateFailed, wait(t, hA).State)

	_, ok := c.Read(entity.TypeProduct, hA.ProvisionalID())
	assert.False(t, ok, "A's provisional entity rolled back")
	got, ok := c.Read(entity.TypeProduct, "p-b")
	require.True(t, ok, "B's confirmed entity untouched by A's rollback")
	assert.False(t, got.Pending)
}

func TestDuplicateResolutionDropped(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct,
	}, entity.NewProvisional(entity.TypeProduct, nil))
	require.NoError(t, err)

	real := entity.New(entity.TypeProduct, "p-real", nil)
	res := transport.Resolution{
		InvocationID: h.InvocationID(), Status: transport.StatusConfirmed, Entity: real,
	}
	tr.resolve(res)
	tr.resolve(res)
	tr.resolve(res)

	require.Equal(t, StateConfirmed, wait(t, h).State)
	assert.Eventually(t, func() bool { return r.PendingCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Len())
}

func TestTimeoutIsFailedWithRollback(t *testing.T) {
	store := memstore.New()
	tr := local.New(store)
	tr.DropNextResolution()
	r, c := startReconciler(t, tr)

	prov := entity.NewProvisional(entity.TypeProduct, nil)
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op:      transport.OpCreate,
		Name:    "createProduct",
		Type:    entity.TypeProduct,
		Timeout: 50 * time.Millisecond,
	}, prov)
	require.NoError(t, err)

	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, errors.ErrMutationTimeout)

	_, ok := c.Read(entity.TypeProduct, prov.ID)
	assert.False(t, ok, "provisional entity rolled back on timeout")
}

func TestSendFailureIsFailedWithRollback(t *testing.T) {
	tr := newScripted()
	tr.sendErr = errors.WrapTransient(errors.ErrNoConnection, "Test", "Send", "down")
	r, c := startReconciler(t, tr)

	prov := entity.NewProvisional(entity.TypeProduct, nil)
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct,
	}, prov)
	require.NoError(t, err)

	res := wait(t, h)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, errors.ErrNoConnection)
	_, ok := c.Read(entity.TypeProduct, prov.ID)
	assert.False(t, ok)
}

func TestUpdateOverlayConfirm(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100})
	base.Version = 1
	require.NoError(t, c.Write(base))

	overlay := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 90})
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op:       transport.OpUpdate,
		Name:     "updateProduct",
		Type:     entity.TypeProduct,
		EntityID: "p1",
		Fields:   map[string]any{"price": 90},
	}, overlay)
	require.NoError(t, err)

	// Optimistic price visible immediately
	got, _ := c.Read(entity.TypeProduct, "p1")
	price, _ := got.Field("price")
	assert.Equal(t, 90, price)

	auth := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 90})
	auth.Version = 2
	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(), Status: transport.StatusConfirmed, Entity: auth,
	})

	require.Equal(t, StateConfirmed, wait(t, h).State)
	got, _ = c.Read(entity.TypeProduct, "p1")
	assert.Equal(t, uint64(2), got.Version)
}

func TestUpdateFailureRestoresPreImage(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100, "name": "keyboard"})
	base.Version = 1
	require.NoError(t, c.Write(base))

	overlay := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 90})
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op:       transport.OpUpdate,
		Name:     "updateProduct",
		Type:     entity.TypeProduct,
		EntityID: "p1",
	}, overlay)
	require.NoError(t, err)

	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})

	res := wait(t, h)
	assert.ErrorIs(t, res.Err, errors.ErrConflict)

	got, ok := c.Read(entity.TypeProduct, "p1")
	require.True(t, ok)
	price, _ := got.Field("price")
	name, _ := got.Field("name")
	assert.Equal(t, 100, price, "pre-dispatch value restored")
	assert.Equal(t, "keyboard", name)
	assert.Equal(t, uint64(1), got.Version)
}

func dispatchPriceUpdate(t *testing.T, r *Reconciler, price int) *Handle {
	t.Helper()
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op:       transport.OpUpdate,
		Name:     "updateProduct",
		Type:     entity.TypeProduct,
		EntityID: "p1",
	}, entity.New(entity.TypeProduct, "p1", map[string]any{"price": price}))
	require.NoError(t, err)
	return h
}

func readPrice(t *testing.T, c *cache.Store) (any, uint64) {
	t.Helper()
	got, ok := c.Read(entity.TypeProduct, "p1")
	require.True(t, ok)
	price, _ := got.Field("price")
	return price, got.Version
}

func TestLateUpdateFailureKeepsConfirmedResult(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100})
	base.Version = 1
	require.NoError(t, c.Write(base))

	hA := dispatchPriceUpdate(t, r, 90)
	hB := dispatchPriceUpdate(t, r, 80)

	// B's authoritative result lands first
	auth := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 80})
	auth.Version = 2
	tr.resolve(transport.Resolution{
		InvocationID: hB.InvocationID(), Status: transport.StatusConfirmed, Entity: auth,
	})
	require.Equal(t, StateConfirmed, wait(t, hB).State)

	// A's late failure must not roll the entity back past B's confirmation
	tr.resolve(transport.Resolution{
		InvocationID: hA.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hA).State)

	price, version := readPrice(t, c)
	assert.Equal(t, 80, price, "confirmed result survives the older rollback")
	assert.Equal(t, uint64(2), version)
}

func TestStackedUpdateRollbacksUnwind(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100})
	base.Version = 1
	require.NoError(t, c.Write(base))

	hA := dispatchPriceUpdate(t, r, 90)
	hB := dispatchPriceUpdate(t, r, 80)

	// The newest overlay fails first: the entity falls back one layer
	tr.resolve(transport.Resolution{
		InvocationID: hB.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hB).State)
	price, _ := readPrice(t, c)
	assert.Equal(t, 90, price, "rollback lands on the still-pending overlay")

	tr.resolve(transport.Resolution{
		InvocationID: hA.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hA).State)
	price, version := readPrice(t, c)
	assert.Equal(t, 100, price, "all overlays unwound to the pre-dispatch state")
	assert.Equal(t, uint64(1), version)
}

func TestEarlyUpdateFailureRebasesLaterRollback(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100})
	base.Version = 1
	require.NoError(t, c.Write(base))

	hA := dispatchPriceUpdate(t, r, 90)
	hB := dispatchPriceUpdate(t, r, 80)

	// A fails while B's overlay is still on top: the cache keeps showing
	// B's optimistic value
	tr.resolve(transport.Resolution{
		InvocationID: hA.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hA).State)
	price, _ := readPrice(t, c)
	assert.Equal(t, 80, price)

	// B's rollback then skips A's failed layer entirely
	tr.resolve(transport.Resolution{
		InvocationID: hB.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hB).State)
	price, version := readPrice(t, c)
	assert.Equal(t, 100, price)
	assert.Equal(t, uint64(1), version)
}

func TestUpdateRollbackLandsOnEarlierConfirmation(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	base := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 100})
	base.Version = 1
	require.NoError(t, c.Write(base))

	hA := dispatchPriceUpdate(t, r, 90)
	hB := dispatchPriceUpdate(t, r, 80)

	// A confirms underneath B's still-pending overlay; the overlay stays
	// visible
	authA := entity.New(entity.TypeProduct, "p1", map[string]any{"price": 90})
	authA.Version = 2
	tr.resolve(transport.Resolution{
		InvocationID: hA.InvocationID(), Status: transport.StatusConfirmed, Entity: authA,
	})
	require.Equal(t, StateConfirmed, wait(t, hA).State)
	price, _ := readPrice(t, c)
	assert.Equal(t, 80, price)

	// B's failure rolls back onto A's confirmed state, not the stale base
	tr.resolve(transport.Resolution{
		InvocationID: hB.InvocationID(), Status: transport.StatusFailed,
		Code: transport.CodeConflict, Error: "stale version",
	})
	require.Equal(t, StateFailed, wait(t, hB).State)
	price, version := readPrice(t, c)
	assert.Equal(t, 90, price)
	assert.Equal(t, uint64(2), version)
}

func TestResolutionPoolMetricsRegistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := New(cache.NewStore(), newScripted(),
		WithMetricsRegistry(registry), WithWorkers(1, 8))
	require.NotNil(t, r)

	// The pool's collectors landed on the shared registry
	assert.True(t, registry.Unregister("worker_pool", "reconciler_resolutions_queue_depth"))
	assert.True(t, registry.Unregister("worker_pool", "reconciler_resolutions_submitted_total"))
	assert.True(t, registry.Unregister("worker_pool", "reconciler_resolutions_processing_duration_seconds"))
}

func TestDeleteConfirmEvicts(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	require.NoError(t, c.Write(entity.New(entity.TypeProduct, "p1", nil)))

	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpDelete, Name: "deleteProduct", Type: entity.TypeProduct, EntityID: "p1",
	}, nil)
	require.NoError(t, err)

	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(), Status: transport.StatusConfirmed,
	})
	require.Equal(t, StateConfirmed, wait(t, h).State)

	_, ok := c.Read(entity.TypeProduct, "p1")
	assert.False(t, ok)
}

func TestRelocationObservedBySubscribers(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	prov := entity.NewProvisional(entity.TypeProduct, nil)
	subA := c.Subscribe(entity.TypeProduct, prov.ID)
	subB := c.Subscribe(entity.TypeProduct, prov.ID)
	defer subA.Cancel()
	defer subB.Cancel()

	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct,
	}, prov)
	require.NoError(t, err)

	// Both see the provisional write first
	for _, sub := range []*cache.Subscription{subA, subB} {
		ev := <-sub.C
		assert.Equal(t, cache.EventUpdated, ev.Kind)
	}

	real := entity.New(entity.TypeProduct, "p-real", nil)
	tr.resolve(transport.Resolution{
		InvocationID: h.InvocationID(), Status: transport.StatusConfirmed, Entity: real,
	})
	wait(t, h)

	// Every subscriber of the provisional id observes the same relocation
	for _, sub := range []*cache.Subscription{subA, subB} {
		ev := <-sub.C
		assert.Equal(t, cache.EventRelocated, ev.Kind)
		assert.Equal(t, prov.ID, ev.ID)
		assert.Equal(t, "p-real", ev.NewID)
	}
}

func TestDispatchOrderIsVisibilityOrder(t *testing.T) {
	tr := newScripted()
	r, c := startReconciler(t, tr)

	sub := c.Subscribe(entity.TypeProduct, cache.WildcardID)
	defer sub.Cancel()

	spec := MutationSpec{Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct}
	var ids []string
	for i := 0; i < 5; i++ {
		h, err := r.Dispatch(context.Background(), spec, entity.NewProvisional(entity.TypeProduct, nil))
		require.NoError(t, err)
		ids = append(ids, h.ProvisionalID())
	}

	for i := 0; i < 5; i++ {
		ev := <-sub.C
		assert.Equal(t, ids[i], ev.ID, "provisional effects visible in dispatch order")
	}
}

func TestCancelStopsLocalNotificationOnly(t *testing.T) {
	store := memstore.New()
	tr := local.New(store, local.WithDelay(30*time.Millisecond))
	r, c := startReconciler(t, tr)

	prov := entity.NewProvisional(entity.TypeProduct, map[string]any{"name": "keyboard"})
	h, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Name: "createProduct", Type: entity.TypeProduct,
		Fields: map[string]any{"name": "keyboard"},
	}, prov)
	require.NoError(t, err)

	h.Cancel()
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	// The mutation still completes and its cache effects still apply
	assert.Eventually(t, func() bool {
		_, ok := c.Read(entity.TypeProduct, prov.ID)
		return !ok && c.Len() == 1
	}, time.Second, 10*time.Millisecond)

	listed, err := store.List(context.Background(), entity.TypeProduct)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDispatchValidation(t *testing.T) {
	tr := newScripted()
	r, _ := startReconciler(t, tr)
	ctx := context.Background()

	cases := []struct {
		name string
		spec MutationSpec
		prov *entity.Entity
	}{
		{"missing type", MutationSpec{Op: transport.OpCreate}, entity.NewProvisional(entity.TypeProduct, nil)},
		{"create without provisional", MutationSpec{Op: transport.OpCreate, Type: entity.TypeProduct}, nil},
		{"create with settled entity", MutationSpec{Op: transport.OpCreate, Type: entity.TypeProduct},
			entity.New(entity.TypeProduct, "p1", nil)},
		{"update without id", MutationSpec{Op: transport.OpUpdate, Type: entity.TypeProduct}, nil},
		{"update overlay id mismatch", MutationSpec{Op: transport.OpUpdate, Type: entity.TypeProduct, EntityID: "p1"},
			entity.New(entity.TypeProduct, "p2", nil)},
		{"delete without id", MutationSpec{Op: transport.OpDelete, Type: entity.TypeProduct}, nil},
		{"delete with provisional", MutationSpec{Op: transport.OpDelete, Type: entity.TypeProduct, EntityID: "p1"},
			entity.NewProvisional(entity.TypeProduct, nil)},
		{"unknown op", MutationSpec{Op: "upsert", Type: entity.TypeProduct}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Dispatch(ctx, tc.spec, tc.prov)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidArgument)
		})
	}
}

func TestDispatchBeforeStart(t *testing.T) {
	r := New(cache.NewStore(), newScripted())
	_, err := r.Dispatch(context.Background(), MutationSpec{
		Op: transport.OpCreate, Type: entity.TypeProduct,
	}, entity.NewProvisional(entity.TypeProduct, nil))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}
