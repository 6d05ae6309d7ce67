package syncengine

import (
	"errors"
	"fmt"
	"time"
)

// Verification failures are terminal for the request: the caller rejects the
// delivery without processing, and the provider must not treat them as a
// transient server failure worth retrying.
var (
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	ErrMalformedPayload  = errors.New("malformed webhook payload")
	ErrStaleTimestamp    = errors.New("webhook timestamp outside tolerance")
)

// ErrUnknownEventType marks a data error: the event is recorded as failed
// with detail and is not retried automatically.
var ErrUnknownEventType = errors.New("unknown event type")

// ErrEventInFlight is returned when another delivery currently owns the
// event's idempotency record and its lease has not expired. The caller
// should answer with a non-2xx status so the provider redelivers later.
var ErrEventInFlight = errors.New("event is already being processed")

// RateLimitedError signals a provider 429 during reconciliation. The job
// backs off for RetryAfter before touching the same page again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}
