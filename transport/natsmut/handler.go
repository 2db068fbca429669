package natsmut

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/storage"
	"github.com/c360/relaykit/transport"
)

// Handler is the store side: it consumes mutation requests from the request
// subjects and publishes resolutions. Handlers join a queue group, so
// running several of them spreads load without double-executing requests.
type Handler struct {
	nc      *nats.Conn
	store   storage.Store
	logger  *slog.Logger
	timeout time.Duration
	sub     *nats.Subscription
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's structured logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger.With("component", "nats-handler")
	}
}

// WithExecTimeout bounds each store execution.
func WithExecTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler connects and binds the store to the request subjects.
func NewHandler(cfg ConnConfig, store storage.Store, opts ...HandlerOption) (*Handler, error) {
	h := &Handler{
		store:   store,
		logger:  slog.Default().With("component", "nats-handler"),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Name == "" {
		cfg.Name = "relaykit-handler"
	}
	nc, err := connect(cfg, h.logger)
	if err != nil {
		return nil, err
	}
	h.nc = nc

	sub, err := nc.QueueSubscribe(requestPrefix+".>", handlerQueue, h.onRequest)
	if err != nil {
		nc.Close()
		return nil, errors.WrapTransient(err, "NATSHandler", "NewHandler", "subscribe requests")
	}
	h.sub = sub

	h.logger.Info("mutation handler listening", "subject", requestPrefix+".>", "queue", handlerQueue)
	return h, nil
}

func (h *Handler) onRequest(msg *nats.Msg) {
	var req transport.MutationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.logger.Warn("dropping malformed mutation request", "subject", msg.Subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res := transport.Execute(ctx, h.store, req)

	data, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("marshal resolution", "invocation_id", req.InvocationID, "error", err)
		return
	}
	if err := h.nc.Publish(resolvedSubject(req.InvocationID), data); err != nil {
		h.logger.Error("publish resolution", "invocation_id", req.InvocationID, "error", err)
		return
	}
	h.logger.Debug("resolved mutation",
		"invocation_id", req.InvocationID, "op", req.Op, "status", res.Status)
}

// Close drains the request subscription and disconnects.
func (h *Handler) Close() error {
	if err := h.sub.Drain(); err != nil {
		h.logger.Warn("drain request subscription", "error", err)
	}
	h.nc.Close()
	return nil
}
