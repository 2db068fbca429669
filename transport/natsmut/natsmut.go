// Package natsmut carries mutation requests and resolutions over NATS.
//
// Requests are published to mutations.req.<type>.<op>; the store-side
// handler executes them and publishes the resolution to
// mutations.resolved.<invocationID>. Clients subscribe to the resolved
// wildcard, so a resolution can be observed by more than one client and
// redelivered on reconnect; the reconciler's invocation-id dedup absorbs
// both, which keeps the transport free to be at-least-once.
package natsmut

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/pkg/retry"
	"github.com/c360/relaykit/transport"
)

const (
	requestPrefix    = "mutations.req"
	resolvedPrefix   = "mutations.resolved"
	resolvedWildcard = resolvedPrefix + ".>"
	handlerQueue     = "relaykit-store"
)

// requestSubject builds the subject a mutation request is published to.
func requestSubject(req transport.MutationRequest) string {
	return fmt.Sprintf("%s.%s.%s", requestPrefix, req.Type, req.Op)
}

// resolvedSubject builds the subject a resolution is published to.
func resolvedSubject(invocationID string) string {
	return fmt.Sprintf("%s.%s", resolvedPrefix, invocationID)
}

// ConnConfig holds NATS connection settings.
type ConnConfig struct {
	URLs          []string
	MaxReconnects int
	ReconnectWait time.Duration
	Username      string
	Password      string
	Token         string
	Name          string
}

// connect establishes a NATS connection with the reconnect and logging
// behavior shared by client and handler.
func connect(cfg ConnConfig, logger *slog.Logger) (*nats.Conn, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSTransport", "connect",
			"at least one NATS URL is required")
	}
	name := cfg.Name
	if name == "" {
		name = "relaykit"
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URLs[0], opts...)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "NATSTransport", "connect",
			fmt.Sprintf("connect to %s: %v", cfg.URLs[0], err))
	}
	return nc, nil
}

// Transport is the client side: it publishes mutation requests and streams
// resolutions back.
type Transport struct {
	nc          *nats.Conn
	sub         *nats.Subscription
	resolutions chan transport.Resolution
	logger      *slog.Logger
	retryCfg    retry.Config

	mu     sync.Mutex
	closed bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger.With("component", "nats-transport")
	}
}

// WithRetry overrides the publish retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(t *Transport) {
		t.retryCfg = cfg
	}
}

// defaultRetryConfig derives the publish retry policy from the error
// framework's defaults, so transient-failure classification and backoff stay
// defined in one place.
func defaultRetryConfig() retry.Config {
	return errors.DefaultRetryConfig().ToRetryConfig()
}

// New connects and subscribes to the resolution stream.
func New(cfg ConnConfig, opts ...Option) (*Transport, error) {
	t := &Transport{
		resolutions: make(chan transport.Resolution, 256),
		logger:      slog.Default().With("component", "nats-transport"),
		retryCfg:    defaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}

	nc, err := connect(cfg, t.logger)
	if err != nil {
		return nil, err
	}
	t.nc = nc

	sub, err := nc.Subscribe(resolvedWildcard, t.onResolved)
	if err != nil {
		nc.Close()
		return nil, errors.WrapTransient(err, "NATSTransport", "New", "subscribe resolutions")
	}
	t.sub = sub
	return t, nil
}

func (t *Transport) onResolved(msg *nats.Msg) {
	var res transport.Resolution
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.logger.Warn("dropping malformed resolution", "subject", msg.Subject, "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.resolutions <- res:
	default:
		t.logger.Warn("resolution buffer full, dropping", "invocation_id", res.InvocationID)
	}
}

// Send publishes a mutation request, retrying transient publish failures.
func (t *Transport) Send(ctx context.Context, req transport.MutationRequest) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.WrapFatal(errors.ErrTransportClosed, "NATSTransport", "Send", "transport closed")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "NATSTransport", "Send", "marshal request")
	}

	subject := requestSubject(req)
	err = retry.Do(ctx, t.retryCfg, func() error {
		if pubErr := t.nc.Publish(subject, data); pubErr != nil {
			return errors.WrapTransient(errors.ErrTransport, "NATSTransport", "Send",
				fmt.Sprintf("publish %s: %v", subject, pubErr))
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.logger.Debug("published mutation request",
		"subject", subject, "invocation_id", req.InvocationID)
	return nil
}

// Resolutions streams resolution notifications.
func (t *Transport) Resolutions() <-chan transport.Resolution {
	return t.resolutions
}

// Close drains the subscription and closes the resolution stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.sub.Drain(); err != nil {
		t.logger.Warn("drain resolution subscription", "error", err)
	}
	t.nc.Close()

	t.mu.Lock()
	close(t.resolutions)
	t.mu.Unlock()
	return nil
}
