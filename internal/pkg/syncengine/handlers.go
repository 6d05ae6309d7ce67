package syncengine

import (
	"time"

	"github.com/subsyncd/subsyncd/app/models"
)

// Provider event types the engine understands.
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventSubscriptionPaused  = "subscription.paused"
	EventSubscriptionResumed = "subscription.resumed"
	EventTrialWillEnd        = "subscription.trial_will_end"
)

// EventHandler computes the candidate next subscription value for one event.
// current may be nil when the subscription has never been seen; first-seen
// events are regularly "updated" rather than "created", so every handler
// must cope with an absent row. Returning (nil, nil) acknowledges the event
// without touching the store.
type EventHandler func(current *models.Subscription, ev *VerifiedEvent) (*models.Subscription, error)

// HandlerRegistry maps event types to handlers. It is built once at process
// start and passed to the processor explicitly; there is no ambient global
// dispatch.
type HandlerRegistry map[string]EventHandler

// NewHandlerRegistry returns the full mapping of supported event types.
func NewHandlerRegistry() HandlerRegistry {
	return HandlerRegistry{
		EventSubscriptionCreated: applySnapshot,
		EventSubscriptionUpdated: applySnapshot,
		EventSubscriptionDeleted: applySnapshotWithStatus(models.SubscriptionStatusCanceled),
		EventSubscriptionPaused:  applySnapshotWithStatus(models.SubscriptionStatusPaused),
		EventSubscriptionResumed: applySnapshotWithStatus(models.SubscriptionStatusActive),
		EventTrialWillEnd:        acknowledgeOnly,
	}
}

// applySnapshot takes the subscription snapshot carried by the event as the
// next full row value.
func applySnapshot(current *models.Subscription, ev *VerifiedEvent) (*models.Subscription, error) {
	return subscriptionFromPayload(current, &ev.Subscription), nil
}

// applySnapshotWithStatus applies the snapshot but forces the status, for
// event types whose meaning is the status change itself (deleted, paused,
// resumed). The provider may omit or lag the status field on those.
func applySnapshotWithStatus(status string) EventHandler {
	return func(current *models.Subscription, ev *VerifiedEvent) (*models.Subscription, error) {
		next := subscriptionFromPayload(current, &ev.Subscription)
		next.Status = status
		return next, nil
	}
}

// acknowledgeOnly records the event as succeeded without a store write;
// notification-only event types carry no state the engine owns.
func acknowledgeOnly(current *models.Subscription, ev *VerifiedEvent) (*models.Subscription, error) {
	return nil, nil
}

func subscriptionFromPayload(current *models.Subscription, p *SubscriptionPayload) *models.Subscription {
	next := &models.Subscription{
		SubscriptionID:     p.ID,
		PlanTier:           NormalizeTier(p.Plan),
		Status:             NormalizeStatus(p.Status),
		CurrentPeriodStart: unixToTime(p.CurrentPeriodStart),
		CurrentPeriodEnd:   unixToTime(p.CurrentPeriodEnd),
		TrialEnd:           unixToTime(p.TrialEnd),
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
		Amount:             p.Amount,
		Currency:           p.Currency,
		BillingInterval:    NormalizeInterval(p.Interval),
	}
	if current != nil {
		next.ID = current.ID
		next.AccountID = current.AccountID
	}
	return next
}

// unixToTime converts an optional unix-seconds value. Absent stays nil:
// the store must never contain a fabricated epoch date.
func unixToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
