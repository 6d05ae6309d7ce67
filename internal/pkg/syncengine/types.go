package syncengine

import "time"

// SubscriptionPayload is the provider-neutral subscription snapshot carried
// by every event and by the provider's list API. Period and trial timestamps
// are unix seconds and optional; when the provider omits them they stay nil
// and are stored as NULL, never defaulted to a synthetic date. Amount and
// currency are carried opaquely, the engine performs no money arithmetic.
type SubscriptionPayload struct {
	ID                 string `json:"id" validate:"required"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	Plan               string `json:"plan"`
	Interval           string `json:"interval"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	CurrentPeriodStart *int64 `json:"current_period_start"`
	CurrentPeriodEnd   *int64 `json:"current_period_end"`
	TrialEnd           *int64 `json:"trial_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

// eventEnvelope is the wire shape of a webhook payload before verification.
type eventEnvelope struct {
	ID      string `json:"id" validate:"required"`
	Type    string `json:"type" validate:"required"`
	Created int64  `json:"created" validate:"required"`
	Data    struct {
		Subscription SubscriptionPayload `json:"subscription"`
	} `json:"data"`
}

// VerifiedEvent is an authenticated, decoded provider event. OccurredAt is
// the provider-side event time used by the ordering guard; the delivery
// timestamp in the signature header plays no role in ordering.
type VerifiedEvent struct {
	EventID      string
	EventType    string
	OccurredAt   time.Time
	Subscription SubscriptionPayload
	Raw          []byte
}

// ApplyResult is the three-way result of the ordering-guarded write path.
// Stale skips are deliberately not errors so callers cannot mistake an
// expected reordering no-op for a failure.
type ApplyResult string

const (
	ApplyCreated      ApplyResult = "created"
	ApplyUpdated      ApplyResult = "updated"
	ApplySkippedStale ApplyResult = "skipped_stale"
)

// Outcome is the structured processing result handed back to the webhook
// layer. Transient failures never produce an Outcome; they surface as
// errors so the provider redelivers.
type Outcome struct {
	EventID     string        `json:"event_id"`
	Result      string        `json:"result"`
	Apply       ApplyResult   `json:"apply,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Duration    time.Duration `json:"-"`
	Duplicate   bool          `json:"duplicate,omitempty"`
}
