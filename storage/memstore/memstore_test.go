package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/types/entity"
)

func TestCreateAssignsIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, map[string]any{"name": "keyboard"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, entity.IsProvisionalID(e.ID))
	assert.Equal(t, uint64(1), e.Version)

	got, err := s.Get(ctx, entity.TypeProduct, e.ID)
	require.NoError(t, err)
	name, _ := got.Field("name")
	assert.Equal(t, "keyboard", name)
}

func TestCreateRequiresType(t *testing.T) {
	s := New()
	_, err := s.Create(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), entity.TypeProduct, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateMergesAndBumpsVersion(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, map[string]any{"name": "keyboard", "price": 100})
	require.NoError(t, err)

	updated, err := s.Update(ctx, entity.TypeProduct, e.ID, map[string]any{"price": 90}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	price, _ := updated.Field("price")
	name, _ := updated.Field("name")
	assert.Equal(t, 90, price)
	assert.Equal(t, "keyboard", name, "unwritten fields survive the merge")
}

func TestUpdateVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, map[string]any{"price": 100})
	require.NoError(t, err)

	_, err = s.Update(ctx, entity.TypeProduct, e.ID, map[string]any{"price": 1}, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConflict)

	// Nothing was applied
	got, err := s.Get(ctx, entity.TypeProduct, e.ID)
	require.NoError(t, err)
	price, _ := got.Field("price")
	assert.Equal(t, 100, price)
	assert.Equal(t, uint64(1), got.Version)

	// Matching expected version succeeds
	_, err = s.Update(ctx, entity.TypeProduct, e.ID, map[string]any{"price": 1}, 1)
	assert.NoError(t, err)
}

func TestUpdateNotFound(t *testing.T) {
	s := New()
	_, err := s.Update(context.Background(), entity.TypeProduct, "ghost", nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, entity.TypeProduct, e.ID))
	assert.ErrorIs(t, s.Delete(ctx, entity.TypeProduct, e.ID), errors.ErrNotFound)

	_, err = s.Get(ctx, entity.TypeProduct, e.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestListOrderedAndTyped(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	ids := 0
	s := New(
		WithClock(func() time.Time {
			tick++
			return now.Add(time.Duration(tick) * time.Second)
		}),
		WithIDFunc(func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		}),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, entity.TypeProduct, nil)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, entity.TypeCustomer, nil)
	require.NoError(t, err)

	got, err := s.List(ctx, entity.TypeProduct)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "id-1", got[0].ID)
	assert.Equal(t, "id-2", got[1].ID)
	assert.Equal(t, "id-3", got[2].ID)
}

func TestListReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, map[string]any{"price": 100})
	require.NoError(t, err)

	listed, err := s.List(ctx, entity.TypeProduct)
	require.NoError(t, err)
	listed[0].SetField("price", -1)

	got, err := s.Get(ctx, entity.TypeProduct, e.ID)
	require.NoError(t, err)
	price, _ := got.Field("price")
	assert.Equal(t, 100, price)
}

func TestConcurrentUpdatesSameEntity(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Create(ctx, entity.TypeProduct, map[string]any{"count": 0})
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, entity.TypeProduct, e.ID, map[string]any{fmt.Sprintf("f%d", i): i}, 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, entity.TypeProduct, e.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1+writers), got.Version, "every update lands exactly once")
	for i := 0; i < writers; i++ {
		_, ok := got.Field(fmt.Sprintf("f%d", i))
		assert.True(t, ok, "no field write is lost")
	}
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.List(ctx, entity.TypeProduct)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Create(ctx, entity.TypeProduct, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
