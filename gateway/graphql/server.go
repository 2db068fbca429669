package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"

	"github.com/c360/relaykit/coordinator"
	"github.com/c360/relaykit/errors"
)

// Config holds the gateway's HTTP settings.
type Config struct {
	Addr             string
	Path             string
	EnablePlayground bool
	EnableCORS       bool
	CORSOrigins      []string
	RateLimit        float64
	RateBurst        int
	RequestTimeout   time.Duration
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"bind address is required")
	}
	if c.Path == "" {
		c.Path = "/graphql"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return nil
}

// Server is the GraphQL HTTP gateway: POST Path for queries and mutations,
// /subscriptions for the cache event stream, /healthz for liveness, and an
// optional playground at the root.
type Server struct {
	config   Config
	executor *Executor
	coord    *coordinator.Coordinator
	verifier TokenVerifier
	limiter  *clientLimiter
	logger   *slog.Logger

	mux        *http.ServeMux
	httpServer *http.Server

	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVerifier enables bearer-token authentication.
func WithVerifier(v TokenVerifier) ServerOption {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithServerLogger sets the server's structured logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With("component", "graphql-server")
	}
}

// NewServer creates the gateway over a coordinator.
func NewServer(config Config, coord *coordinator.Coordinator, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if coord == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"coordinator is required")
	}

	s := &Server{
		config:   config,
		coord:    coord,
		logger:   slog.Default().With("component", "graphql-server"),
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	executor, err := NewExecutor(coord, s.logger)
	if err != nil {
		return nil, err
	}
	s.executor = executor

	if config.RateLimit > 0 {
		s.limiter = newClientLimiter(config.RateLimit, config.RateBurst)
	}
	return s, nil
}

// Handle mounts an extra handler (metrics, pprof) on the gateway mux. Must
// be called before Setup.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Setup wires routes and builds the HTTP server.
func (s *Server) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mux.HandleFunc(s.config.Path, s.handleGraphQL)
	s.mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	if s.config.EnablePlayground {
		s.mux.Handle("/", playground.Handler("RelayKit", s.config.Path))
		s.logger.Info("playground enabled", "url", fmt.Sprintf("http://%s/", s.config.Addr))
	}

	var handler http.Handler = s.mux
	handler = s.authMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	if s.config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      handler,
		ReadTimeout:  s.config.RequestTimeout,
		WriteTimeout: s.config.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server configured", "address", s.config.Addr, "path", s.config.Path)
	return nil
}

// Handler returns the fully composed HTTP handler. Valid after Setup; used
// when embedding the gateway under an existing server.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// Start runs the HTTP server until ctx is cancelled or Stop is called. The
// ready channel closes when the listener is about to accept connections.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("server starting", "address", s.config.Addr)
		if ready != nil {
			close(ready)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server context cancelled, shutting down")
		return s.Stop(30 * time.Second)
	case <-s.stopChan:
		return nil
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "HTTP server failed")
	}
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown failed")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

// IsRunning reports whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// handleGraphQL serves one GraphQL request.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGraphQLError(w, http.StatusBadRequest, mapError(
			errors.WrapInvalid(errors.ErrInvalidData, "Server", "HandleGraphQL",
				fmt.Sprintf("decode request body: %v", err)), "request"))
		return
	}
	if req.Query == "" {
		writeGraphQLError(w, http.StatusBadRequest, mapError(
			errors.WrapInvalid(errors.ErrInvalidArgument, "Server", "HandleGraphQL",
				"query is required"), "request"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	resp := s.executor.Execute(ctx, identityFrom(r), req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// corsMiddleware adds CORS headers for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, candidate := range s.config.CORSOrigins {
			if candidate == "*" || candidate == origin {
				allowed = true
				break
			}
		}
		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
