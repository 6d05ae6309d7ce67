package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/subsyncd/subsyncd/app/models"
)

const defaultMaxPageRetries = 3

// ProviderLister is the provider read API surface the reconciler needs.
type ProviderLister interface {
	ListSubscriptions(ctx context.Context, cursor string) (*SubscriptionPage, error)
}

// RecordError captures one failed write during a reconciliation pass.
type RecordError struct {
	SubscriptionID string `json:"subscription_id"`
	Detail         string `json:"detail"`
}

// Report summarizes one reconciliation pass. FlaggedIDs lists subscriptions
// present locally but absent from the provider; they are never deleted,
// only surfaced for operators.
type Report struct {
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Flagged    int           `json:"flagged"`
	Failed     int           `json:"failed"`
	Partial    bool          `json:"partial"`
	Duration   time.Duration `json:"-"`
	FlaggedIDs []string      `json:"flagged_ids,omitempty"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// Reconciler pulls the provider's full subscription list and repairs drift
// in the local store. It is safe to run concurrently with live event
// processing because every write goes through the same ordering-guarded
// path the processor uses.
type Reconciler struct {
	Repo     Repository
	Provider ProviderLister

	MaxPageRetries int
	Now            func() time.Time
	// Sleep is replaceable in tests; it must respect context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewReconciler wires a reconciler with default retry/backoff behavior.
func NewReconciler(repo Repository, provider ProviderLister) *Reconciler {
	return &Reconciler{
		Repo:           repo,
		Provider:       provider,
		MaxPageRetries: defaultMaxPageRetries,
		Now:            time.Now,
		Sleep:          sleepCtx,
	}
}

// Reconcile runs one full pass. Partial provider failures degrade the pass
// to a partial report instead of aborting it; a failed pass is retried on
// the next scheduled tick, never looped immediately. The report is also
// persisted for the operational surface.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	start := r.now()
	report := &Report{}
	seen := make(map[string]struct{})

	cursor := ""
	for {
		page, err := r.fetchPage(ctx, cursor)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			log.Errorf("[Reconcile] page fetch failed, finishing pass as partial: %v", err)
			report.Partial = true
			break
		}

		for i := range page.Data {
			r.reconcileRecord(ctx, &page.Data[i], seen, report)
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	// Local-only flagging needs the complete provider list; a partial pass
	// would flag everything the missing pages cover.
	if !report.Partial {
		if err := r.flagLocalOnly(ctx, seen, report); err != nil {
			log.Errorf("[Reconcile] local-only flagging failed: %v", err)
			report.Partial = true
		}
	}

	report.Duration = r.now().Sub(start)
	r.persistReport(ctx, report)
	return report, nil
}

func (r *Reconciler) fetchPage(ctx context.Context, cursor string) (*SubscriptionPage, error) {
	retries := r.MaxPageRetries
	if retries <= 0 {
		retries = defaultMaxPageRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		page, err := r.Provider.ListSubscriptions(ctx, cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			if sleepErr := r.sleep(ctx, rl.RetryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if sleepErr := r.sleep(ctx, time.Duration(attempt+1)*time.Second); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (r *Reconciler) reconcileRecord(ctx context.Context, ps *ProviderSubscription, seen map[string]struct{}, report *Report) {
	id := strings.TrimSpace(ps.ID)
	if id == "" {
		report.Failed++
		report.Errors = append(report.Errors, RecordError{Detail: "provider record without subscription id"})
		return
	}
	seen[id] = struct{}{}

	local, err := r.Repo.GetSubscription(ctx, id)
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, RecordError{SubscriptionID: id, Detail: err.Error()})
		return
	}

	candidate := subscriptionFromPayload(local, &ps.SubscriptionPayload)
	candidate.SourceEventTimestamp = time.Unix(ps.UpdatedAt, 0).UTC()
	// The provider record stands in for a webhook payload in the audit
	// column; leaving it empty would blank the last webhook's raw payload.
	if raw, err := json.Marshal(ps); err == nil {
		candidate.RawPayloadJSON = string(raw)
	}

	if local != nil && consistent(local, candidate) {
		report.Unchanged++
		return
	}
	if candidate.AccountID == 0 && ps.Customer != "" {
		account, err := r.Repo.FindAccountByCustomerID(ctx, ps.Customer)
		if err == nil && account != nil {
			candidate.AccountID = account.ID
		}
	}

	applied, err := r.Repo.ApplyOrdered(ctx, candidate)
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, RecordError{SubscriptionID: id, Detail: err.Error()})
		return
	}

	switch applied {
	case ApplyCreated:
		report.Created++
		r.auditWrite(ctx, id, "reconciliation.create")
	case ApplyUpdated:
		report.Updated++
		r.auditWrite(ctx, id, "reconciliation.update")
	default:
		// Local copy carries a newer event than the eventually-consistent
		// list endpoint; nothing to repair.
		report.Unchanged++
	}
}

// auditWrite records a synthetic ledger entry so reconciliation repairs show
// up in the same audit trail as webhook-driven writes.
func (r *Reconciler) auditWrite(ctx context.Context, subscriptionID, kind string) {
	now := r.now()
	rec := &models.IdempotencyRecord{
		EventID:    "recon_" + uuid.NewString(),
		EventType:  kind,
		ReceivedAt: now,
		Outcome:    models.OutcomeSucceeded,
	}
	if _, _, err := r.Repo.InsertEventIfAbsent(ctx, rec); err != nil {
		log.Warnf("[Reconcile] audit entry for %s (%s) failed: %v", subscriptionID, kind, err)
	}
}

func (r *Reconciler) flagLocalOnly(ctx context.Context, seen map[string]struct{}, report *Report) error {
	ids, err := r.Repo.ListSubscriptionIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			report.Flagged++
			report.FlaggedIDs = append(report.FlaggedIDs, id)
		}
	}
	return nil
}

func (r *Reconciler) persistReport(ctx context.Context, report *Report) {
	detail := ""
	if len(report.Errors) > 0 {
		parts := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			parts = append(parts, fmt.Sprintf("%s: %s", e.SubscriptionID, e.Detail))
		}
		detail = strings.Join(parts, "; ")
	}
	row := &models.ReconciliationReport{
		Created:     report.Created,
		Updated:     report.Updated,
		Unchanged:   report.Unchanged,
		Flagged:     report.Flagged,
		Failed:      report.Failed,
		Partial:     report.Partial,
		DurationMs:  report.Duration.Milliseconds(),
		ErrorDetail: detail,
	}
	if err := r.Repo.SaveReconciliationReport(ctx, row); err != nil {
		log.Errorf("[Reconcile] report persistence failed: %v", err)
	}
}

// consistent compares the material fields so unchanged records skip the
// write path entirely and avoid needless row locking.
func consistent(local, candidate *models.Subscription) bool {
	return local.Status == candidate.Status &&
		local.PlanTier == candidate.PlanTier &&
		local.BillingInterval == candidate.BillingInterval &&
		local.CancelAtPeriodEnd == candidate.CancelAtPeriodEnd &&
		local.Amount == candidate.Amount &&
		local.Currency == candidate.Currency &&
		timePtrEqual(local.CurrentPeriodStart, candidate.CurrentPeriodStart) &&
		timePtrEqual(local.CurrentPeriodEnd, candidate.CurrentPeriodEnd) &&
		timePtrEqual(local.TrialEnd, candidate.TrialEnd)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
