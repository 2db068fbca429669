package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/relaykit/errors"
)

// GraphQL error codes surfaced in error extensions. Clients branch on the
// code, never on the message text.
const (
	codeInvalidCursor = "INVALID_CURSOR"
	codeBadUserInput  = "BAD_USER_INPUT"
	codeUnauthorized  = "UNAUTHORIZED"
	codeConflict      = "CONFLICT"
	codeDuplicate     = "DUPLICATE"
	codeNotFound      = "NOT_FOUND"
	codeTimeout       = "TIMEOUT"
	codeRateLimited   = "RATE_LIMITED"
	codeInternal      = "INTERNAL"
)

// mapError converts a protocol error into a GraphQL error with a stable
// code. An invalid cursor keeps its own code so clients can distinguish a
// stale cursor (drop it and refetch) from bad input (fix the query).
func mapError(err error, operation string) *gqlerror.Error {
	if err == nil {
		return nil
	}
	if gqlErr, ok := err.(*gqlerror.Error); ok {
		return gqlErr
	}

	code := codeInternal
	switch {
	case errors.Is(err, errors.ErrInvalidCursor):
		code = codeInvalidCursor
	case errors.Is(err, errors.ErrInvalidArgument), errors.Is(err, errors.ErrInvalidData),
		errors.Is(err, errors.ErrInvalidConfig):
		code = codeBadUserInput
	case errors.Is(err, errors.ErrUnauthorized), errors.Is(err, errors.ErrInvalidToken):
		code = codeUnauthorized
	case errors.Is(err, errors.ErrConflict):
		code = codeConflict
	case errors.Is(err, errors.ErrDuplicateMutation):
		code = codeDuplicate
	case errors.Is(err, errors.ErrNotFound):
		code = codeNotFound
	case errors.Is(err, errors.ErrMutationTimeout), errors.Is(err, errors.ErrRequestTimeout),
		errors.Is(err, context.DeadlineExceeded):
		code = codeTimeout
	case errors.Is(err, errors.ErrRateLimited):
		code = codeRateLimited
	}

	message := err.Error()
	if code == codeInternal {
		// Internal details stay in the logs.
		message = "internal server error"
	}

	return &gqlerror.Error{
		Message: message,
		Extensions: map[string]any{
			"code":      code,
			"operation": operation,
		},
	}
}
