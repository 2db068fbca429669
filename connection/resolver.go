package connection

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/relaykit/cursor"
	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/metric"
)

// Resolver evaluates connection queries against a Source, enforcing the
// ordering and boundary invariants of the pagination protocol.
type Resolver struct {
	source          Source
	logger          *slog.Logger
	metrics         *metric.Metrics
	defaultPageSize int
	maxPageSize     int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's structured logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger.With("component", "connection-resolver")
	}
}

// WithMetrics enables core metric tracking for resolved pages.
func WithMetrics(m *metric.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithDefaultPageSize sets the page size used when neither first nor last
// is supplied.
func WithDefaultPageSize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.defaultPageSize = n
		}
	}
}

// WithMaxPageSize caps first/last; larger requests are clamped, not failed.
func WithMaxPageSize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxPageSize = n
		}
	}
}

// NewResolver creates a Resolver over the given source.
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:          source,
		logger:          slog.Default().With("component", "connection-resolver"),
		defaultPageSize: 25,
		maxPageSize:     250,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns one page of the filtered, sorted result set. For a fixed
// (filter, sort) pair and a fixed source snapshot, repeated calls with the
// same cursor return identical pages.
func (r *Resolver) Resolve(ctx context.Context, params Params) (*Connection, error) {
	start := time.Now()

	if err := validateParams(params); err != nil {
		return nil, err
	}

	spec := params.Sort.WithTieBreak()
	fingerprint := spec.Fingerprint(params.Filter)

	entities, err := r.source.List(ctx, params.Filter.Type)
	if err != nil {
		return nil, errors.WrapTransient(err, "Resolver", "Resolve", "list source snapshot")
	}

	// Filter, then sort into the total order defined by spec + tie-break.
	matched := entities[:0:0]
	for _, e := range entities {
		if params.Filter.Matches(e) {
			matched = append(matched, e)
		}
	}

	keys := make([][]any, len(matched))
	order := make([]int, len(matched))
	for i, e := range matched {
		keys[i] = spec.KeyFor(e)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return spec.CompareKeys(keys[order[a]], keys[order[b]]) < 0
	})

	// Window bounds: lo inclusive, hi exclusive, within the sorted order.
	lo, hi := 0, len(order)

	if params.After != nil {
		afterKey, err := cursor.Decode(*params.After, fingerprint)
		if err != nil {
			return nil, errors.Wrap(err, "Resolver", "Resolve", "decode after cursor")
		}
		lo = searchAfter(order, keys, spec, afterKey)
	}

	if params.Before != nil {
		beforeKey, err := cursor.Decode(*params.Before, fingerprint)
		if err != nil {
			return nil, errors.Wrap(err, "Resolver", "Resolve", "decode before cursor")
		}
		if pos := searchAt(order, keys, spec, beforeKey); pos < hi {
			hi = pos
		}
	}
	if hi < lo {
		hi = lo
	}

	// Slice the requested count out of the window, looking one item ahead
	// to answer hasNextPage/hasPreviousPage truthfully.
	count := r.defaultPageSize
	backward := false
	switch {
	case params.First != nil:
		count = min(*params.First, r.maxPageSize)
	case params.Last != nil:
		count = min(*params.Last, r.maxPageSize)
		backward = true
	}

	var sliceLo, sliceHi int
	if backward {
		sliceHi = hi
		sliceLo = max(hi-count, lo)
	} else {
		sliceLo = lo
		sliceHi = min(lo+count, hi)
	}

	conn := &Connection{
		Edges:      make([]Edge, 0, sliceHi-sliceLo),
		TotalCount: len(order),
		PageInfo: PageInfo{
			HasNextPage:     sliceHi < len(order),
			HasPreviousPage: sliceLo > 0,
		},
	}

	for i := sliceLo; i < sliceHi; i++ {
		idx := order[i]
		c, err := cursor.Encode(fingerprint, keys[idx])
		if err != nil {
			return nil, errors.Wrap(err, "Resolver", "Resolve", "encode edge cursor")
		}
		conn.Edges = append(conn.Edges, Edge{Node: matched[idx].Clone(), Cursor: c})
	}

	if len(conn.Edges) > 0 {
		startCursor := conn.Edges[0].Cursor
		endCursor := conn.Edges[len(conn.Edges)-1].Cursor
		conn.PageInfo.StartCursor = &startCursor
		conn.PageInfo.EndCursor = &endCursor
	}

	if r.metrics != nil {
		typ := string(params.Filter.Type)
		r.metrics.QueriesTotal.WithLabelValues(typ, "success").Inc()
		r.metrics.QueryDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
		r.metrics.PageSize.WithLabelValues(typ).Observe(float64(len(conn.Edges)))
	}

	r.logger.Debug("connection resolved",
		"entity_type", params.Filter.Type,
		"edges", len(conn.Edges),
		"total", conn.TotalCount,
		"has_next", conn.PageInfo.HasNextPage)

	return conn, nil
}

// validateParams enforces the pagination argument contract: first pairs with
// after, last pairs with before, counts are non-negative, and the two
// directions never mix within one request.
func validateParams(params Params) error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Resolver", "Resolve", msg)
	}

	if params.Filter.Type == "" {
		return invalid("filter entity type is required")
	}
	if params.Filter.Predicate != nil && params.Filter.PredicateID == "" {
		return invalid("filter predicate requires a stable predicate id")
	}
	if params.First != nil && params.Last != nil {
		return invalid("first and last are mutually exclusive")
	}
	if params.First != nil && *params.First < 0 {
		return invalid("first must be non-negative")
	}
	if params.Last != nil && *params.Last < 0 {
		return invalid("last must be non-negative")
	}
	if params.After != nil && params.Last != nil {
		return invalid("after pairs with first, not last")
	}
	if params.Before != nil && params.First != nil {
		return invalid("before pairs with last, not first")
	}
	if params.After != nil && params.Before != nil {
		return invalid("after and before are mutually exclusive")
	}
	return nil
}

// searchAfter returns the lowest position whose key orders strictly after
// the cursor key.
func searchAfter(order []int, keys [][]any, spec SortSpec, key []any) int {
	return sort.Search(len(order), func(i int) bool {
		return spec.CompareKeys(keys[order[i]], key) > 0
	})
}

// searchAt returns the lowest position whose key orders at or after the
// cursor key.
func searchAt(order []int, keys [][]any, spec SortSpec, key []any) int {
	return sort.Search(len(order), func(i int) bool {
		return spec.CompareKeys(keys[order[i]], key) >= 0
	})
}
