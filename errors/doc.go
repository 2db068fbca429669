// Package errors provides standardized error handling patterns for RelayKit.
//
// # Error Taxonomy
//
// The pagination and mutation protocol defines a fixed set of sentinel
// errors that callers are expected to test with errors.Is:
//
//	ErrInvalidCursor     - malformed cursor or cursor minted under a
//	                       different (filter, sort) configuration
//	ErrInvalidArgument   - conflicting pagination arguments (first with
//	                       before, negative counts, ...)
//	ErrDuplicateMutation - a second dispatch reused an idempotency key
//	                       while the first dispatch was still pending
//	ErrUnauthorized      - the authorization predicate denied the operation
//	ErrConflict          - write-write conflict; retry with fresh data
//	ErrTransport         - delivery failure, surfaced as a Failed mutation
//	ErrMutationTimeout   - dispatch deadline expired; treated as Failed,
//	                       never as an "unknown" outcome
//
// # Classification
//
// Every error belongs to one of three classes used for retry decisions:
//
//	ErrorTransient - temporary, may be retried (transport hiccups, timeouts)
//	ErrorInvalid   - caller bug, never retried and never silently degraded
//	ErrorFatal     - unrecoverable, stop processing
//
// # Wrapping
//
// Errors are wrapped with component context following the pattern
// "component.method: action failed: %w":
//
//	if err := codec.Decode(raw, spec); err != nil {
//	    return errors.WrapInvalid(err, "Resolver", "Resolve", "decode after cursor")
//	}
//
// WrapTransient, WrapInvalid and WrapFatal attach a classification while
// preserving the full error chain for errors.Is / errors.As.
package errors
