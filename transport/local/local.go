// Package local provides an in-process transport backed directly by an
// authoritative store. It serves embedded deployments and tests; fault
// injection hooks simulate the delivery behaviors the reconciler must
// tolerate (failures, duplicated resolutions, dropped resolutions, latency).
package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/storage"
	"github.com/c360/relaykit/transport"
)

// Transport executes mutation requests against a store on a separate
// goroutine and delivers resolutions on its stream, so dispatch and
// resolution never happen on the same call stack.
type Transport struct {
	store       storage.Store
	resolutions chan transport.Resolution
	logger      *slog.Logger

	mu        sync.Mutex
	closed    bool
	delay     time.Duration
	failSend  error
	dropNext  bool
	duplicate bool

	wg sync.WaitGroup
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger.With("component", "local-transport")
	}
}

// WithDelay adds artificial latency between send and resolution.
func WithDelay(d time.Duration) Option {
	return func(t *Transport) {
		t.delay = d
	}
}

// New creates a transport bound to the given store.
func New(store storage.Store, opts ...Option) *Transport {
	t := &Transport{
		store:       store,
		resolutions: make(chan transport.Resolution, 64),
		logger:      slog.Default().With("component", "local-transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FailNextSend makes the next Send return err without reaching the store.
func (t *Transport) FailNextSend(err error) {
	t.mu.Lock()
	t.failSend = err
	t.mu.Unlock()
}

// DropNextResolution executes the next request but never delivers its
// resolution, simulating a lost notification.
func (t *Transport) DropNextResolution() {
	t.mu.Lock()
	t.dropNext = true
	t.mu.Unlock()
}

// DuplicateNextResolution delivers the next resolution twice, exercising the
// at-least-once contract.
func (t *Transport) DuplicateNextResolution() {
	t.mu.Lock()
	t.duplicate = true
	t.mu.Unlock()
}

// Send executes the request asynchronously and delivers its resolution on
// the stream.
func (t *Transport) Send(ctx context.Context, req transport.MutationRequest) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.WrapFatal(errors.ErrTransportClosed, "LocalTransport", "Send", "transport closed")
	}
	if err := t.failSend; err != nil {
		t.failSend = nil
		t.mu.Unlock()
		return errors.WrapTransient(err, "LocalTransport", "Send", "injected send failure")
	}
	drop, dup := t.dropNext, t.duplicate
	t.dropNext, t.duplicate = false, false
	delay := t.delay
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}

		// The mutation runs to completion regardless of the caller's
		// context; only delivery back is affected by faults.
		res := transport.Execute(context.Background(), t.store, req)

		if drop {
			t.logger.Debug("dropping resolution", "invocation_id", req.InvocationID)
			return
		}
		t.deliver(res)
		if dup {
			t.deliver(res)
		}
	}()
	return nil
}

// deliver runs inside a Send goroutine tracked by wg, so Close's wait
// orders every delivery before the resolution channel closes.
func (t *Transport) deliver(res transport.Resolution) {
	select {
	case t.resolutions <- res:
	default:
		t.logger.Warn("resolution buffer full, dropping", "invocation_id", res.InvocationID)
	}
}

// Resolutions streams resolution notifications.
func (t *Transport) Resolutions() <-chan transport.Resolution {
	return t.resolutions
}

// Close rejects further Sends, waits for in-flight executions, and closes
// the resolution stream. The closed flag is set under the lock before the
// wait so no Send can grow the wait group once draining starts.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	close(t.resolutions)
	return nil
}
