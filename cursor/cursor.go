// Package cursor implements the opaque pagination cursor codec.
//
// A cursor deterministically encodes the sort-key tuple of the entity at a
// position in an ordered result set, together with a fingerprint of the
// (filter, sort) configuration that produced it. Decoding under a different
// configuration fails with errors.ErrInvalidCursor; a cursor never silently
// degrades into an unfiltered page. Cursors are opaque to clients: no
// ordering or comparison semantics may be inferred from the encoded form.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/relaykit/errors"
)

// payload is the wire form of a cursor before base64 encoding.
type payload struct {
	// Fingerprint of the (filter, sort) configuration, hex to survive
	// JSON number precision limits.
	Fingerprint string `json:"fp"`
	// Key is the sort-key tuple, values normalized to JSON-stable forms.
	Key []any `json:"key"`
}

// Encode serializes a sort-key tuple under a configuration fingerprint.
// Encoding is injective over the normalized tuple: two distinct tuples under
// the same configuration always yield distinct cursors.
func Encode(fingerprint uint64, key []any) (string, error) {
	normalized := make([]any, len(key))
	for i, v := range key {
		normalized[i] = Normalize(v)
	}

	raw, err := json.Marshal(payload{
		Fingerprint: fmt.Sprintf("%016x", fingerprint),
		Key:         normalized,
	})
	if err != nil {
		return "", errors.WrapInvalid(err, "cursor", "Encode", "marshal sort key")
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a cursor and verifies it was minted under the expected
// configuration. A malformed payload or a fingerprint mismatch both fail
// with errors.ErrInvalidCursor.
func Decode(raw string, expectedFingerprint uint64) ([]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidCursor, "cursor", "Decode",
			"malformed cursor encoding")
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidCursor, "cursor", "Decode",
			"malformed cursor payload")
	}

	if p.Fingerprint != fmt.Sprintf("%016x", expectedFingerprint) {
		return nil, errors.WrapInvalid(errors.ErrInvalidCursor, "cursor", "Decode",
			"cursor minted under a different filter/sort configuration")
	}

	return p.Key, nil
}

// Normalize converts a sort-key value to its JSON-stable form so that a
// value survives an encode/decode round trip with its ordering intact:
// integers and floats become float64, timestamps become RFC 3339 strings
// (which sort identically to their time order), strings and bools pass
// through.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case bool:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		// Unknown types fall back to their string form; ordering is then
		// lexical, which is at least deterministic.
		return fmt.Sprintf("%v", t)
	}
}

// Compare orders two normalized sort-key values. Values of different kinds
// order by kind rank (nil < bool < number < string) so mixed-type fields
// still produce a total order.
func Compare(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankNil:
		return 0
	case rankBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case rankNumber:
		av, bv := a.(float64), b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		av, bv := a.(string), b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
}

// CompareTuples orders two normalized sort-key tuples field by field.
// Shorter tuples order before longer ones when all shared fields are equal.
func CompareTuples(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
)

func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case float64:
		return rankNumber
	default:
		return rankString
	}
}
