package connection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/types/entity"
)

// sliceSource serves a fixed entity slice as a stable snapshot.
type sliceSource []*entity.Entity

func (s sliceSource) List(_ context.Context, typ entity.Type) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for _, e := range s {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out, nil
}

func products(n int) sliceSource {
	src := make(sliceSource, 0, n)
	for i := 1; i <= n; i++ {
		src = append(src, entity.New(entity.TypeProduct, fmt.Sprintf("%d", i), map[string]any{
			"name":  fmt.Sprintf("product-%d", i),
			"price": i * 10,
		}))
	}
	return src
}

func intPtr(n int) *int { return &n }

func productFilter() Filter { return Filter{Type: entity.TypeProduct} }

func TestResolvePageWalkScenario(t *testing.T) {
	// Page size 2 over tie-break ids [1..5]: [1,2] then [3,4] then [5].
	r := NewResolver(products(5))
	ctx := context.Background()

	page1, err := r.Resolve(ctx, Params{Filter: productFilter(), First: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, page1.NodeIDs())
	assert.True(t, page1.PageInfo.HasNextPage)
	assert.False(t, page1.PageInfo.HasPreviousPage)
	require.NotNil(t, page1.PageInfo.EndCursor)

	page2, err := r.Resolve(ctx, Params{Filter: productFilter(), First: intPtr(2), After: page1.PageInfo.EndCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, page2.NodeIDs())
	assert.True(t, page2.PageInfo.HasNextPage)
	assert.True(t, page2.PageInfo.HasPreviousPage)

	page3, err := r.Resolve(ctx, Params{Filter: productFilter(), First: intPtr(2), After: page2.PageInfo.EndCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, page3.NodeIDs())
	assert.False(t, page3.PageInfo.HasNextPage)

	// After-cursor at the very last item yields an empty page
	page4, err := r.Resolve(ctx, Params{Filter: productFilter(), First: intPtr(2), After: page3.PageInfo.EndCursor})
	require.NoError(t, err)
	assert.Empty(t, page4.Edges)
	assert.False(t, page4.PageInfo.HasNextPage)
	assert.Nil(t, page4.PageInfo.EndCursor)
}

func TestResolveConcatenationEqualsFullSlice(t *testing.T) {
	// Concatenating consecutive pages equals slicing the full sorted result
	// set, with no gaps and no duplicates.
	src := products(23)
	r := NewResolver(src)
	ctx := context.Background()

	sortSpec := SortSpec{{Field: "price", Direction: Descending}}

	full, err := r.Resolve(ctx, Params{Filter: productFilter(), Sort: sortSpec, First: intPtr(1000)})
	require.NoError(t, err)
	require.Len(t, full.Edges, 23)

	for _, pageSize := range []int{1, 2, 5, 7, 23, 50} {
		var walked []string
		var after *string
		for {
			page, err := r.Resolve(ctx, Params{Filter: productFilter(), Sort: sortSpec, First: intPtr(pageSize), After: after})
			require.NoError(t, err)
			walked = append(walked, page.NodeIDs()...)
			if !page.PageInfo.HasNextPage {
				break
			}
			after = page.PageInfo.EndCursor
		}
		assert.Equal(t, full.NodeIDs(), walked, "page size %d", pageSize)
	}
}

func TestResolveCursorBoundToConfiguration(t *testing.T) {
	r := NewResolver(products(5))
	ctx := context.Background()

	byPrice := SortSpec{{Field: "price", Direction: Ascending}}
	byName := SortSpec{{Field: "name", Direction: Ascending}}

	page, err := r.Resolve(ctx, Params{Filter: productFilter(), Sort: byPrice, First: intPtr(2)})
	require.NoError(t, err)

	// Same cursor under a different sort fails, never silently degrades
	_, err = r.Resolve(ctx, Params{Filter: productFilter(), Sort: byName, First: intPtr(2), After: page.PageInfo.EndCursor})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidCursor)

	// Same sort but a different filter also fails
	filtered := Filter{Type: entity.TypeProduct, Match: map[string]any{"price": 20}}
	_, err = r.Resolve(ctx, Params{Filter: filtered, Sort: byPrice, First: intPtr(2), After: page.PageInfo.EndCursor})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidCursor)

	// Garbage cursors propagate the decode failure
	garbage := "not-a-cursor"
	_, err = r.Resolve(ctx, Params{Filter: productFilter(), Sort: byPrice, First: intPtr(2), After: &garbage})
	assert.ErrorIs(t, err, errors.ErrInvalidCursor)
}

func TestResolveHasNextPageBoundaries(t *testing.T) {
	r := NewResolver(products(4))
	ctx := context.Background()

	tests := []struct {
		name     string
		first    int
		wantNext bool
		wantLen  int
	}{
		{"zero size with items remaining", 0, true, 0},
		{"fewer than total", 3, true, 3},
		{"exactly total", 4, false, 4},
		{"more than total", 5, false, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.Resolve(ctx, Params{Filter: productFilter(), First: intPtr(tt.first)})
			require.NoError(t, err)
			assert.Len(t, page.Edges, tt.wantLen)
			assert.Equal(t, tt.wantNext, page.PageInfo.HasNextPage)
		})
	}
}

func TestResolveZeroFirstOnEmptySet(t *testing.T) {
	r := NewResolver(sliceSource{})
	page, err := r.Resolve(context.Background(), Params{Filter: productFilter(), First: intPtr(0)})
	require.NoError(t, err)
	assert.Empty(t, page.Edges)
	assert.False(t, page.PageInfo.HasNextPage)
	assert.False(t, page.PageInfo.HasPreviousPage)
	assert.Equal(t, 0, page.TotalCount)
}

func TestResolveBackwardPagination(t *testing.T) {
	r := NewResolver(products(5))
	ctx := context.Background()

	// last:2 without a cursor takes the final window
	tail, err := r.Resolve(ctx, Params{Filter: productFilter(), Last: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, tail.NodeIDs())
	assert.False(t, tail.PageInfo.HasNextPage)
	assert.True(t, tail.PageInfo.HasPreviousPage)

	// before the start of that window walks backwards
	prev, err := r.Resolve(ctx, Params{Filter: productFilter(), Last: intPtr(2), Before: tail.PageInfo.StartCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, prev.NodeIDs())
	assert.True(t, prev.PageInfo.HasNextPage)
	assert.True(t, prev.PageInfo.HasPreviousPage)

	first, err := r.Resolve(ctx, Params{Filter: productFilter(), Last: intPtr(2), Before: prev.PageInfo.StartCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, first.NodeIDs())
	assert.False(t, first.PageInfo.HasPreviousPage)
}

func TestResolveArgumentValidation(t *testing.T) {
	r := NewResolver(products(3))
	ctx := context.Background()
	someCursor := "irrelevant"

	tests := []struct {
		name   string
		params Params
	}{
		{"first and last", Params{Filter: productFilter(), First: intPtr(1), Last: intPtr(1)}},
		{"negative first", Params{Filter: productFilter(), First: intPtr(-1)}},
		{"negative last", Params{Filter: productFilter(), Last: intPtr(-2)}},
		{"after with last", Params{Filter: productFilter(), Last: intPtr(1), After: &someCursor}},
		{"before with first", Params{Filter: productFilter(), First: intPtr(1), Before: &someCursor}},
		{"after and before", Params{Filter: productFilter(), After: &someCursor, Before: &someCursor}},
		{"missing type", Params{}},
		{"predicate without id", Params{Filter: Filter{Type: entity.TypeProduct, Predicate: func(*entity.Entity) bool { return true }}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidArgument)
		})
	}
}

func TestResolveFilterMatch(t *testing.T) {
	src := products(10)
	r := NewResolver(src)

	page, err := r.Resolve(context.Background(), Params{
		Filter: Filter{Type: entity.TypeProduct, Match: map[string]any{"price": 30}},
		First:  intPtr(10),
	})
	require.NoError(t, err)
	require.Len(t, page.Edges, 1)
	assert.Equal(t, "3", page.Edges[0].Node.ID)
	assert.Equal(t, 1, page.TotalCount)
}

func TestResolvePredicateFilter(t *testing.T) {
	r := NewResolver(products(10))

	page, err := r.Resolve(context.Background(), Params{
		Filter: Filter{
			Type:        entity.TypeProduct,
			Predicate:   func(e *entity.Entity) bool { p, _ := e.Field("price"); return p.(int) > 70 },
			PredicateID: "price-gt-70",
		},
		First: intPtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "9", "10"}, page.NodeIDs())
}

func TestResolveTieBreakTotalOrder(t *testing.T) {
	// All entities share the same sort value; the implicit id tie-break
	// must still produce a stable total order across pages.
	src := make(sliceSource, 0, 6)
	for i := 1; i <= 6; i++ {
		src = append(src, entity.New(entity.TypeProduct, fmt.Sprintf("%d", i), map[string]any{"name": "same"}))
	}
	r := NewResolver(src)
	ctx := context.Background()
	byName := SortSpec{{Field: "name", Direction: Ascending}}

	var walked []string
	var after *string
	for {
		page, err := r.Resolve(ctx, Params{Filter: productFilter(), Sort: byName, First: intPtr(2), After: after})
		require.NoError(t, err)
		walked = append(walked, page.NodeIDs()...)
		if !page.PageInfo.HasNextPage {
			break
		}
		after = page.PageInfo.EndCursor
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, walked, "no gaps, no duplicates")
}

func TestResolveDeterministicRepeat(t *testing.T) {
	r := NewResolver(products(9))
	ctx := context.Background()
	params := Params{Filter: productFilter(), Sort: SortSpec{{Field: "price", Direction: Descending}}, First: intPtr(4)}

	a, err := r.Resolve(ctx, params)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, a.NodeIDs(), b.NodeIDs())
	assert.Equal(t, a.PageInfo, b.PageInfo)
}

func TestResolveMaxPageSizeClamp(t *testing.T) {
	r := NewResolver(products(10), WithMaxPageSize(3))
	page, err := r.Resolve(context.Background(), Params{Filter: productFilter(), First: intPtr(100)})
	require.NoError(t, err)
	assert.Len(t, page.Edges, 3)
	assert.True(t, page.PageInfo.HasNextPage)
}

func TestResolveDefaultPageSize(t *testing.T) {
	r := NewResolver(products(10), WithDefaultPageSize(4))
	page, err := r.Resolve(context.Background(), Params{Filter: productFilter()})
	require.NoError(t, err)
	assert.Len(t, page.Edges, 4)
}

func TestConnectionNodeIDsAndClone(t *testing.T) {
	r := NewResolver(products(2))
	page, err := r.Resolve(context.Background(), Params{Filter: productFilter(), First: intPtr(2)})
	require.NoError(t, err)

	// Returned nodes are copies: mutating them must not leak into the source
	page.Edges[0].Node.SetField("price", -1)
	again, err := r.Resolve(context.Background(), Params{Filter: productFilter(), First: intPtr(2)})
	require.NoError(t, err)
	price, _ := again.Edges[0].Node.Field("price")
	assert.Equal(t, 10, price)
}
