// Package transport defines how mutation requests reach the authoritative
// store and how resolution notifications flow back to the reconciler.
//
// Delivery of resolutions is at-least-once: an implementation may deliver the
// same resolution more than once, and the reconciler deduplicates by
// invocation id. A transport never invents an outcome; a request it could
// not deliver surfaces as a send error, which the reconciler maps to a
// failed mutation.
package transport

import (
	"context"
	"fmt"

	"github.com/c360/relaykit/errors"
	"github.com/c360/relaykit/storage"
	"github.com/c360/relaykit/types/entity"
)

// Op identifies the store operation a mutation performs.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// MutationRequest is the wire form of one mutation invocation.
type MutationRequest struct {
	InvocationID    string         `json:"invocation_id"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	Op              Op             `json:"op"`
	Name            string         `json:"name"`
	Type            entity.Type    `json:"type"`
	EntityID        string         `json:"entity_id,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
	ExpectedVersion uint64         `json:"expected_version,omitempty"`
}

// Status is the outcome of a resolved mutation.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Error codes carried by failed resolutions. The client side maps them back
// to the error taxonomy with ResolutionError.
const (
	CodeConflict = "conflict"
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

// Resolution is the authoritative answer to one mutation invocation.
type Resolution struct {
	InvocationID string         `json:"invocation_id"`
	Status       Status         `json:"status"`
	Entity       *entity.Entity `json:"entity,omitempty"`
	Code         string         `json:"code,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ResolutionError reconstructs a classified error from a failed resolution.
// Returns nil for confirmed resolutions.
func ResolutionError(res Resolution) error {
	if res.Status != StatusFailed {
		return nil
	}
	var sentinel error
	switch res.Code {
	case CodeConflict:
		sentinel = errors.ErrConflict
	case CodeNotFound:
		sentinel = errors.ErrNotFound
	case CodeInvalid:
		sentinel = errors.ErrInvalidData
	default:
		sentinel = errors.ErrTransport
	}
	return errors.Wrap(sentinel, "Transport", "Resolve", res.Error)
}

// Transport delivers mutation requests and streams resolutions back.
// Implementations are safe for concurrent Send calls.
type Transport interface {
	// Send delivers one mutation request. A returned error means the
	// request did not reach the store.
	Send(ctx context.Context, req MutationRequest) error

	// Resolutions streams resolution notifications, at-least-once.
	// The channel closes when the transport closes.
	Resolutions() <-chan Resolution

	// Close releases transport resources and closes the resolution stream.
	Close() error
}

// Execute runs a mutation request against an authoritative store and builds
// the resolution for it. Shared by every server-side transport binding.
func Execute(ctx context.Context, store storage.Store, req MutationRequest) Resolution {
	confirmed := func(e *entity.Entity) Resolution {
		return Resolution{InvocationID: req.InvocationID, Status: StatusConfirmed, Entity: e}
	}
	failed := func(err error) Resolution {
		code := CodeInternal
		switch {
		case errors.Is(err, errors.ErrConflict):
			code = CodeConflict
		case errors.Is(err, errors.ErrNotFound):
			code = CodeNotFound
		case errors.IsInvalid(err):
			code = CodeInvalid
		}
		return Resolution{
			InvocationID: req.InvocationID,
			Status:       StatusFailed,
			Code:         code,
			Error:        err.Error(),
		}
	}

	switch req.Op {
	case OpCreate:
		e, err := store.Create(ctx, req.Type, req.Fields)
		if err != nil {
			return failed(err)
		}
		return confirmed(e)
	case OpUpdate:
		e, err := store.Update(ctx, req.Type, req.EntityID, req.Fields, req.ExpectedVersion)
		if err != nil {
			return failed(err)
		}
		return confirmed(e)
	case OpDelete:
		if err := store.Delete(ctx, req.Type, req.EntityID); err != nil {
			return failed(err)
		}
		return confirmed(nil)
	default:
		return failed(errors.WrapInvalid(errors.ErrInvalidData, "Transport", "Execute",
			fmt.Sprintf("unknown op %q", req.Op)))
	}
}
