package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	wrapped := Wrap(base, "Resolver", "Resolve", "decode cursor")

	require.Error(t, wrapped)
	assert.Equal(t, "Resolver.Resolve: decode cursor failed: boom", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, base))

	assert.NoError(t, Wrap(nil, "Resolver", "Resolve", "decode cursor"))
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := stderrors.New("boom")
			err := tt.wrap(base, "Comp", "Method", "action")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Comp", ce.Component)
			assert.True(t, stderrors.Is(err, base))

			assert.NoError(t, tt.wrap(nil, "Comp", "Method", "action"))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	for _, sentinel := range []error{
		ErrInvalidCursor,
		ErrInvalidArgument,
		ErrDuplicateMutation,
		ErrUnauthorized,
		ErrInvalidToken,
		ErrInvalidData,
		ErrInvalidConfig,
	} {
		assert.True(t, IsInvalid(sentinel), "%v should be invalid", sentinel)
		assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", sentinel)))
		assert.False(t, IsTransient(sentinel), "%v should not be transient", sentinel)
	}

	assert.False(t, IsInvalid(nil))
	assert.False(t, IsInvalid(stderrors.New("random")))
}

func TestIsTransient(t *testing.T) {
	for _, sentinel := range []error{
		ErrTransport,
		ErrNoConnection,
		ErrConnectionLost,
		ErrRequestTimeout,
		ErrRateLimited,
		ErrQueueFull,
		context.DeadlineExceeded,
	} {
		assert.True(t, IsTransient(sentinel), "%v should be transient", sentinel)
	}

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrInvalidCursor))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.True(t, IsFatal(ErrTransportClosed))
	assert.True(t, IsFatal(ErrShuttingDown))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(ErrTransport))
}

func TestClassifiedErrorOverridesSentinelClass(t *testing.T) {
	// An explicit classification wins over the sentinel's default class.
	err := WrapFatal(ErrTransport, "Transport", "Send", "publish")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidCursor))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrTransport))
	// Unknown errors default to transient so callers may retry.
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestRetryConfigShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.True(t, rc.ShouldRetry(ErrTransport, 0))
	assert.True(t, rc.ShouldRetry(ErrTransport, 2))
	assert.False(t, rc.ShouldRetry(ErrTransport, 3), "attempts exhausted")
	assert.False(t, rc.ShouldRetry(ErrInvalidCursor, 0), "invalid errors never retry")
	assert.False(t, rc.ShouldRetry(nil, 0))
}

func TestRetryConfigRetryableAllowlist(t *testing.T) {
	rc := DefaultRetryConfig()
	rc.RetryableErrors = []error{ErrRequestTimeout}

	assert.True(t, rc.ShouldRetry(ErrRequestTimeout, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, 0), "not in allowlist")
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 1.5,
	}

	cfg := rc.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts, "total attempts = retries + 1")
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 1.5, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}
