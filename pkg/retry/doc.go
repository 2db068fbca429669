// Package retry provides simple exponential backoff retry logic.
//
// The package is used by the transports for re-delivering mutation
// resolution notifications and by clients reconnecting to NATS. Wrap an
// error with NonRetryable to abort a retry loop immediately:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    if err := send(); errors.IsInvalid(err) {
//	        return retry.NonRetryable(err)
//	    }
//	    return err
//	})
//
// Delays grow by Multiplier each attempt, capped at MaxDelay, with
// optional jitter to avoid thundering herds. All waiting respects
// context cancellation.
package retry
