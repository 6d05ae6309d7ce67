package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsyncd/subsyncd/app/models"
)

func newTestProcessor(repo Repository) *Processor {
	p := NewProcessor(repo, NewHandlerRegistry())
	p.PollInterval = 2 * time.Millisecond
	p.PollAttempts = 100
	p.LeaseTTL = time.Second
	return p
}

func makeEvent(eventID, eventType, subscriptionID string, occurredAt int64, payload SubscriptionPayload) *VerifiedEvent {
	payload.ID = subscriptionID
	raw, _ := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": occurredAt,
		"data":    map[string]interface{}{"subscription": payload},
	})
	return &VerifiedEvent{
		EventID:      eventID,
		EventType:    eventType,
		OccurredAt:   time.Unix(occurredAt, 0).UTC(),
		Subscription: payload,
		Raw:          raw,
	}
}

func TestProcess_CreatesSubscription(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionCreated, "sub_1", 100, SubscriptionPayload{
		Status: "trialing", Plan: "pro", Interval: "month", Amount: 1999, Currency: "usd",
	})
	out, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, out.Result)
	assert.Equal(t, ApplyCreated, out.Apply)

	sub := repo.subscription("sub_1")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, models.PlanTierPro, sub.PlanTier)
	assert.Equal(t, int64(100), sub.SourceEventTimestamp.Unix())

	rec := repo.event("ev_1")
	require.NotNil(t, rec)
	assert.Equal(t, models.OutcomeSucceeded, rec.Outcome)
}

func TestProcess_SameEventTwiceMutatesOnce(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})

	first, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.writes())
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.Apply, second.Apply)
	assert.True(t, second.Duplicate)
}

func TestProcess_TransientErrorLeavesRecordProcessing(t *testing.T) {
	repo := newFakeRepo()
	repo.getSubErr = errors.New("connection refused")
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})

	_, err := p.Process(context.Background(), ev)
	require.Error(t, err)

	// The outcome must not be pinned terminal: duplicates short-circuit to
	// the stored outcome, so a terminal failed here would block every retry.
	rec := repo.event("ev_1")
	require.NotNil(t, rec)
	assert.Equal(t, models.OutcomeProcessing, rec.Outcome)
	assert.NotNil(t, rec.LeaseExpiresAt)

	// Once the store recovers and the lease runs out, a redelivery finishes
	// the work.
	repo.getSubErr = nil
	expired := time.Now().Add(-time.Minute)
	repo.events["ev_1"].LeaseExpiresAt = &expired

	out, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, out.Result)
	assert.NotNil(t, repo.subscription("sub_1"))
}

func TestProcess_WriteErrorLeavesRecordProcessing(t *testing.T) {
	repo := newFakeRepo()
	repo.applyErr = errors.New("deadlock")
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})

	_, err := p.Process(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeProcessing, repo.event("ev_1").Outcome)
}

func TestProcess_OrderIndependence(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	older := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "trialing"})
	newer := makeEvent("ev_2", EventSubscriptionUpdated, "sub_1", 200, SubscriptionPayload{Status: "active"})

	// Deliver in reverse order.
	out, err := p.Process(context.Background(), newer)
	require.NoError(t, err)
	assert.Equal(t, ApplyCreated, out.Apply)

	out, err = p.Process(context.Background(), older)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, out.Result, "stale events are recorded as success, not failure")
	assert.Equal(t, ApplySkippedStale, out.Apply)

	sub := repo.subscription("sub_1")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(200), sub.SourceEventTimestamp.Unix())

	// Redelivering the stale event later must not revert the state.
	out, err = p.Process(context.Background(), older)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("sub_1").Status)
}

func TestProcess_NoFabricatedTimestamps(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionCreated, "sub_1", 100, SubscriptionPayload{Status: "active"})
	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	sub := repo.subscription("sub_1")
	require.NotNil(t, sub)
	assert.Nil(t, sub.CurrentPeriodStart)
	assert.Nil(t, sub.CurrentPeriodEnd)
	assert.Nil(t, sub.TrialEnd)
}

func TestProcess_DeletedForcesCanceled(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	_, err := p.Process(context.Background(), makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"}))
	require.NoError(t, err)

	// Deletion events often still carry the pre-deletion status snapshot.
	_, err = p.Process(context.Background(), makeEvent("ev_2", EventSubscriptionDeleted, "sub_1", 200, SubscriptionPayload{Status: "active"}))
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusCanceled, repo.subscription("sub_1").Status)
}

func TestProcess_CanceledAcceptsNewerEvents(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	_, err := p.Process(context.Background(), makeEvent("ev_1", EventSubscriptionDeleted, "sub_1", 100, SubscriptionPayload{}))
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusCanceled, repo.subscription("sub_1").Status)

	// The provider is the source of truth; a newer event may resurrect.
	_, err = p.Process(context.Background(), makeEvent("ev_2", EventSubscriptionUpdated, "sub_1", 200, SubscriptionPayload{Status: "active"}))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("sub_1").Status)
}

func TestProcess_UnknownEventType(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", "invoice.finalized", "sub_1", 100, SubscriptionPayload{})
	out, err := p.Process(context.Background(), ev)
	require.NoError(t, err, "data errors are recorded outcomes, not transport failures")
	assert.Equal(t, models.OutcomeFailed, out.Result)
	assert.Contains(t, out.ErrorDetail, "invoice.finalized")
	assert.Nil(t, repo.subscription("sub_1"))
	assert.Equal(t, models.OutcomeFailed, repo.event("ev_1").Outcome)
}

func TestProcess_NotificationOnlyEvent(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	out, err := p.Process(context.Background(), makeEvent("ev_1", EventTrialWillEnd, "sub_1", 100, SubscriptionPayload{}))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, out.Result)
	assert.Nil(t, repo.subscription("sub_1"))
	assert.Equal(t, 0, repo.writes())
}

func TestProcess_LinksAccountByCustomerID(t *testing.T) {
	repo := newFakeRepo()
	repo.accounts["cus_42"] = &models.Account{ID: 42, ExternalCustomerID: "cus_42"}
	p := newTestProcessor(repo)

	_, err := p.Process(context.Background(), makeEvent("ev_1", EventSubscriptionCreated, "sub_1", 100, SubscriptionPayload{
		Customer: "cus_42", Status: "active",
	}))
	require.NoError(t, err)
	assert.Equal(t, uint(42), repo.subscription("sub_1").AccountID)
}

func TestProcess_UnknownCustomerStoresUnlinked(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	_, err := p.Process(context.Background(), makeEvent("ev_1", EventSubscriptionCreated, "sub_1", 100, SubscriptionPayload{
		Customer: "cus_nobody", Status: "active",
	}))
	require.NoError(t, err)
	sub := repo.subscription("sub_1")
	require.NotNil(t, sub)
	assert.Equal(t, uint(0), sub.AccountID)
}

func TestProcess_ConcurrentDuplicateDelivery(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})

	const callers = 8
	outcomes := make([]*Outcome, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = p.Process(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, repo.writes(), "exactly one side-effecting execution")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, outcomes[i])
		assert.Equal(t, models.OutcomeSucceeded, outcomes[i].Result)
	}
}

func TestProcess_ReclaimsExpiredLease(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)

	// A previous attempt died mid-flight: processing row with expired lease.
	expired := time.Now().Add(-time.Minute)
	repo.events["ev_1"] = &models.IdempotencyRecord{
		EventID:        "ev_1",
		EventType:      EventSubscriptionUpdated,
		ReceivedAt:     expired,
		Outcome:        models.OutcomeProcessing,
		LeaseExpiresAt: &expired,
	}

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})
	out, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSucceeded, out.Result)
	assert.NotNil(t, repo.subscription("sub_1"))
}

func TestProcess_ActiveLeaseReturnsInFlight(t *testing.T) {
	repo := newFakeRepo()
	p := newTestProcessor(repo)
	p.PollAttempts = 2

	lease := time.Now().Add(time.Hour)
	repo.events["ev_1"] = &models.IdempotencyRecord{
		EventID:        "ev_1",
		EventType:      EventSubscriptionUpdated,
		ReceivedAt:     time.Now(),
		Outcome:        models.OutcomeProcessing,
		LeaseExpiresAt: &lease,
	}

	ev := makeEvent("ev_1", EventSubscriptionUpdated, "sub_1", 100, SubscriptionPayload{Status: "active"})
	_, err := p.Process(context.Background(), ev)
	assert.ErrorIs(t, err, ErrEventInFlight)
	assert.Nil(t, repo.subscription("sub_1"))
}
