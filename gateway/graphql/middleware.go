package graphql

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/time/rate"

	"github.com/c360/relaykit/auth"
	"github.com/c360/relaykit/errors"
)

// TokenVerifier validates a bearer token and returns the identity it
// carries.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type contextKey string

const identityKey contextKey = "identity"

func contextWithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// identityFrom returns the request identity, or Anonymous.
func identityFrom(r *http.Request) auth.Identity {
	if id, ok := r.Context().Value(identityKey).(auth.Identity); ok {
		return id
	}
	return auth.Anonymous
}

// authMiddleware resolves the Authorization header into an identity. A
// missing header means an anonymous caller; a present but invalid token is
// rejected outright.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || s.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			writeGraphQLError(w, http.StatusUnauthorized, mapError(
				errors.WrapInvalid(errors.ErrInvalidToken, "Server", "Auth",
					"authorization header must be a bearer token"), "auth"))
			return
		}

		identity, err := s.verifier.Verify(token)
		if err != nil {
			writeGraphQLError(w, http.StatusUnauthorized, mapError(err, "auth"))
			return
		}

		ctx := r.Context()
		next.ServeHTTP(w, r.WithContext(contextWithIdentity(ctx, identity)))
	})
}

// clientLimiter hands out one token bucket per client key.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// maxTrackedClients bounds the limiter map; when exceeded the map resets,
// which briefly refills every client's bucket.
const maxTrackedClients = 10000

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.limiters) > maxTrackedClients {
		cl.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := cl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[key] = lim
	}
	return lim.Allow()
}

// rateLimitMiddleware throttles per client address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.allow(host) {
			writeGraphQLError(w, http.StatusTooManyRequests, mapError(
				errors.WrapTransient(errors.ErrRateLimited, "Server", "RateLimit",
					"request rate exceeded"), "rate_limit"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeGraphQLError(w http.ResponseWriter, status int, gqlErr *gqlerror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Errors: gqlerror.List{gqlErr}})
}
