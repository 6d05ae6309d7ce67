package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/subsyncd/subsyncd/app/models"
)

const (
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultPollAttempts = 10
)

// Processor applies verified events to the subscription store with
// exactly-once effect under at-least-once delivery. Invocations for
// different subscriptions run concurrently; the idempotency insert and the
// row-locked write path provide all required serialization.
type Processor struct {
	Repo     Repository
	Handlers HandlerRegistry

	// LeaseTTL bounds how long a processing record stays claimable by its
	// owner before another delivery may take over.
	LeaseTTL     time.Duration
	PollInterval time.Duration
	PollAttempts int

	Now func() time.Time
}

// NewProcessor wires a processor with its dependencies passed explicitly.
func NewProcessor(repo Repository, handlers HandlerRegistry) *Processor {
	return &Processor{
		Repo:         repo,
		Handlers:     handlers,
		LeaseTTL:     defaultLeaseTTL,
		PollInterval: defaultPollInterval,
		PollAttempts: defaultPollAttempts,
		Now:          time.Now,
	}
}

// Process runs the idempotent, order-aware pipeline for one event.
//
// A non-nil error marks a transient condition (store unavailable, event
// in flight past its poll budget, deadline) and the caller should have the
// provider retry. Permanent conditions, including data errors and stale
// no-ops, come back as an Outcome with a nil error.
func (p *Processor) Process(ctx context.Context, ev *VerifiedEvent) (*Outcome, error) {
	start := p.Now()
	lease := start.Add(p.LeaseTTL)
	rec := &models.IdempotencyRecord{
		EventID:        ev.EventID,
		EventType:      ev.EventType,
		ReceivedAt:     start,
		Outcome:        models.OutcomeProcessing,
		LeaseExpiresAt: &lease,
	}

	created, stored, err := p.Repo.InsertEventIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("idempotency insert: %w", err)
	}

	if !created {
		if stored.Terminal() {
			return outcomeFromRecord(stored), nil
		}
		settled, err := p.awaitWinner(ctx, ev.EventID)
		if err != nil {
			return nil, err
		}
		if settled != nil {
			return settled, nil
		}
		// The winner's lease expired without a terminal outcome; take over.
		claimed, err := p.Repo.ReclaimEvent(ctx, ev.EventID, p.Now(), p.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("lease reclaim: %w", err)
		}
		if !claimed {
			return nil, ErrEventInFlight
		}
	}

	return p.apply(ctx, ev, start)
}

// awaitWinner briefly polls for the concurrent owner's terminal outcome.
// Returns nil, nil when the poll budget ran out and the lease looks expired.
func (p *Processor) awaitWinner(ctx context.Context, eventID string) (*Outcome, error) {
	for i := 0; i < p.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.PollInterval):
		}

		rec, err := p.Repo.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("idempotency poll: %w", err)
		}
		if rec.Terminal() {
			return outcomeFromRecord(rec), nil
		}
		if rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.Before(p.Now()) {
			return nil, nil
		}
	}

	rec, err := p.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("idempotency poll: %w", err)
	}
	if rec.Terminal() {
		return outcomeFromRecord(rec), nil
	}
	if rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.Before(p.Now()) {
		return nil, nil
	}
	return nil, ErrEventInFlight
}

func (p *Processor) apply(ctx context.Context, ev *VerifiedEvent, start time.Time) (*Outcome, error) {
	handler, ok := p.Handlers[ev.EventType]
	if !ok {
		detail := fmt.Sprintf("%v: %s", ErrUnknownEventType, ev.EventType)
		p.markOutcome(ctx, ev.EventID, models.OutcomeFailed, "", detail, start)
		return &Outcome{
			EventID:     ev.EventID,
			Result:      models.OutcomeFailed,
			ErrorDetail: detail,
			Duration:    p.Now().Sub(start),
		}, nil
	}

	current, err := p.Repo.GetSubscription(ctx, ev.Subscription.ID)
	if err != nil {
		// Transient: leave the record in processing so a later delivery can
		// reclaim the lease and re-run the business logic.
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	next, err := handler(current, ev)
	if err != nil {
		// Data error: retrying would fail identically, record and surface.
		p.markOutcome(ctx, ev.EventID, models.OutcomeFailed, "", err.Error(), start)
		return &Outcome{
			EventID:     ev.EventID,
			Result:      models.OutcomeFailed,
			ErrorDetail: err.Error(),
			Duration:    p.Now().Sub(start),
		}, nil
	}

	if next == nil {
		p.markOutcome(ctx, ev.EventID, models.OutcomeSucceeded, "", "", start)
		return &Outcome{
			EventID:  ev.EventID,
			Result:   models.OutcomeSucceeded,
			Duration: p.Now().Sub(start),
		}, nil
	}

	if next.AccountID == 0 && ev.Subscription.Customer != "" {
		account, err := p.Repo.FindAccountByCustomerID(ctx, ev.Subscription.Customer)
		if err != nil {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		if account != nil {
			next.AccountID = account.ID
		} else {
			log.Infof("[SyncEngine] no local account for customer %s, storing subscription %s unlinked",
				ev.Subscription.Customer, next.SubscriptionID)
		}
	}

	next.SourceEventTimestamp = ev.OccurredAt
	next.RawPayloadJSON = string(ev.Raw)

	applied, err := p.Repo.ApplyOrdered(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("ordered write: %w", err)
	}

	// Stale skips are recorded as succeeded: the reordering is expected and
	// the provider must not keep retrying a delivery we will never apply.
	p.markOutcome(ctx, ev.EventID, models.OutcomeSucceeded, string(applied), "", start)
	return &Outcome{
		EventID:  ev.EventID,
		Result:   models.OutcomeSucceeded,
		Apply:    applied,
		Duration: p.Now().Sub(start),
	}, nil
}

func (p *Processor) markOutcome(ctx context.Context, eventID, outcome, apply, detail string, start time.Time) {
	durationMs := p.Now().Sub(start).Milliseconds()
	if err := p.Repo.MarkEventOutcome(ctx, eventID, outcome, apply, detail, durationMs); err != nil {
		log.Errorf("[SyncEngine] failed to mark event %s outcome %s: %v", eventID, outcome, err)
	}
}

// outcomeFromRecord reconstructs the winner's outcome for a losing duplicate
// delivery, so all deliveries of one event answer structurally alike.
func outcomeFromRecord(rec *models.IdempotencyRecord) *Outcome {
	return &Outcome{
		EventID:     rec.EventID,
		Result:      rec.Outcome,
		Apply:       ApplyResult(rec.ApplyResult),
		ErrorDetail: rec.ErrorDetail,
		Duration:    time.Duration(rec.ProcessingDurationMs) * time.Millisecond,
		Duplicate:   true,
	}
}
