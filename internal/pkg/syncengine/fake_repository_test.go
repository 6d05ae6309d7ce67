package syncengine

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/subsyncd/subsyncd/app/models"
)

// fakeRepo is an in-memory Repository with the same linearization semantics
// the MySQL implementation provides: insert-if-absent on event id and a
// serialized ordering-guarded write per subscription.
type fakeRepo struct {
	mu       sync.Mutex
	events   map[string]*models.IdempotencyRecord
	subs     map[string]*models.Subscription
	accounts map[string]*models.Account
	reports  []models.ReconciliationReport

	nextSubID uint
	// applyWrites counts side-effecting subscription writes (creates and
	// updates, not stale skips).
	applyWrites int

	getSubErr error
	applyErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:   make(map[string]*models.IdempotencyRecord),
		subs:     make(map[string]*models.Subscription),
		accounts: make(map[string]*models.Account),
	}
}

func (f *fakeRepo) GetEvent(ctx context.Context, eventID string) (*models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeRepo) InsertEventIfAbsent(ctx context.Context, rec *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.events[rec.EventID]; ok {
		clone := *stored
		return false, &clone, nil
	}
	clone := *rec
	f.events[rec.EventID] = &clone
	out := clone
	return true, &out, nil
}

func (f *fakeRepo) MarkEventOutcome(ctx context.Context, eventID, outcome, applyResult, errorDetail string, durationMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.events[eventID]
	if !ok {
		return nil
	}
	rec.Outcome = outcome
	rec.ApplyResult = applyResult
	rec.ErrorDetail = errorDetail
	rec.ProcessingDurationMs = durationMs
	rec.LeaseExpiresAt = nil
	return nil
}

func (f *fakeRepo) ReclaimEvent(ctx context.Context, eventID string, now time.Time, leaseTTL time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.events[eventID]
	if !ok || rec.Outcome != models.OutcomeProcessing {
		return false, nil
	}
	if rec.LeaseExpiresAt == nil || !rec.LeaseExpiresAt.Before(now) {
		return false, nil
	}
	until := now.Add(leaseTTL)
	rec.LeaseExpiresAt = &until
	return true, nil
}

func (f *fakeRepo) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getSubErr != nil {
		return nil, f.getSubErr
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, nil
	}
	clone := *sub
	return &clone, nil
}

func (f *fakeRepo) ApplyOrdered(ctx context.Context, sub *models.Subscription) (ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return "", f.applyErr
	}
	stored, ok := f.subs[sub.SubscriptionID]
	if !ok {
		f.nextSubID++
		clone := *sub
		clone.ID = f.nextSubID
		f.subs[sub.SubscriptionID] = &clone
		f.applyWrites++
		return ApplyCreated, nil
	}
	if !sub.SourceEventTimestamp.After(stored.SourceEventTimestamp) {
		return ApplySkippedStale, nil
	}
	clone := *sub
	clone.ID = stored.ID
	if clone.AccountID == 0 {
		clone.AccountID = stored.AccountID
	}
	f.subs[sub.SubscriptionID] = &clone
	f.applyWrites++
	return ApplyUpdated, nil
}

func (f *fakeRepo) ListSubscriptionIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeRepo) FindAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[customerID]
	if !ok {
		return nil, nil
	}
	clone := *account
	return &clone, nil
}

func (f *fakeRepo) SaveReconciliationReport(ctx context.Context, report *models.ReconciliationReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, *report)
	return nil
}

func (f *fakeRepo) RecentReconciliationReports(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReconciliationReport, len(f.reports))
	copy(out, f.reports)
	return out, nil
}

func (f *fakeRepo) subscription(id string) *models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil
	}
	clone := *sub
	return &clone
}

func (f *fakeRepo) event(id string) *models.IdempotencyRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.events[id]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

func (f *fakeRepo) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyWrites
}
