// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// The reconciler runs mutation resolution delivery on a Pool so that
// notification fan-out to cache subscribers never blocks the transport
// receive loop. Submit is non-blocking: when the bounded queue is full the
// work item is dropped and ErrQueueFull returned, giving callers explicit
// backpressure instead of unbounded buffering.
//
//	pool := worker.NewPool[Resolution](4, 256,
//	    func(ctx context.Context, r Resolution) error {
//	        return reconciler.apply(ctx, r)
//	    },
//	    worker.WithMetricsRegistry[Resolution](registry, "reconciler"),
//	)
//	pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// Statistics are always tracked; Prometheus metrics are registered only when
// a registry is supplied.
package worker
