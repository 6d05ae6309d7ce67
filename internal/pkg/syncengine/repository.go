package syncengine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subsyncd/subsyncd/app/models"
)

// Repository provides the durable-store operations the engine needs. The
// subscription and idempotency tables are owned exclusively by this engine;
// everything else in the system reads them through other surfaces.
type Repository interface {
	GetEvent(ctx context.Context, eventID string) (*models.IdempotencyRecord, error)
	InsertEventIfAbsent(ctx context.Context, rec *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error)
	MarkEventOutcome(ctx context.Context, eventID, outcome, applyResult, errorDetail string, durationMs int64) error
	ReclaimEvent(ctx context.Context, eventID string, now time.Time, leaseTTL time.Duration) (bool, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	ApplyOrdered(ctx context.Context, sub *models.Subscription) (ApplyResult, error)
	ListSubscriptionIDs(ctx context.Context) ([]string, error)

	FindAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error)

	SaveReconciliationReport(ctx context.Context, report *models.ReconciliationReport) error
	RecentReconciliationReports(ctx context.Context, limit int) ([]models.ReconciliationReport, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an engine repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetEvent(ctx context.Context, eventID string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertEventIfAbsent converts "first delivery wins" into a storage-level
// compare-and-set on the event id unique index. The returned bool is true
// when this caller created the record and therefore owns processing.
func (r *gormRepository) InsertEventIfAbsent(ctx context.Context, rec *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.IdempotencyRecord
	if err := r.db.WithContext(ctx).Where("event_id = ?", rec.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkEventOutcome(ctx context.Context, eventID, outcome, applyResult, errorDetail string, durationMs int64) error {
	updates := map[string]interface{}{
		"outcome":                outcome,
		"apply_result":           applyResult,
		"error_detail":           errorDetail,
		"processing_duration_ms": durationMs,
		"lease_expires_at":       nil,
	}
	return r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}

// ReclaimEvent takes over a processing record whose lease has expired,
// typically left behind by a worker that hit its deadline. The guarded
// UPDATE makes the takeover race-free: only one claimant sees RowsAffected.
func (r *gormRepository) ReclaimEvent(ctx context.Context, eventID string, now time.Time, leaseTTL time.Duration) (bool, error) {
	until := now.Add(leaseTTL)
	tx := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("event_id = ? AND outcome = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
			eventID, models.OutcomeProcessing, now).
		Updates(map[string]interface{}{"lease_expires_at": &until})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ApplyOrdered is the single ordering-guarded write path shared by event
// processing and reconciliation. The row is locked for the duration of the
// transaction so concurrent writers for the same subscription serialize;
// writers for different subscriptions do not contend. An incoming value
// whose source timestamp is not strictly newer than the stored one is
// skipped as stale.
func (r *gormRepository) ApplyOrdered(ctx context.Context, sub *models.Subscription) (ApplyResult, error) {
	result := ApplySkippedStale
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("subscription_id = ?", sub.SubscriptionID).
			First(&stored).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if createErr := tx.Create(sub).Error; createErr != nil {
				if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
					return createErr
				}
				// Lost a create race; the winner's row is now visible.
				if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("subscription_id = ?", sub.SubscriptionID).
					First(&stored).Error; err != nil {
					return err
				}
				return applyOverStored(tx, sub, &stored, &result)
			}
			result = ApplyCreated
			return nil
		}
		return applyOverStored(tx, sub, &stored, &result)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func applyOverStored(tx *gorm.DB, sub, stored *models.Subscription, result *ApplyResult) error {
	if !sub.SourceEventTimestamp.After(stored.SourceEventTimestamp) {
		*result = ApplySkippedStale
		return nil
	}
	sub.ID = stored.ID
	sub.CreatedAt = stored.CreatedAt
	if sub.AccountID == 0 {
		sub.AccountID = stored.AccountID
	}
	if err := tx.Model(&models.Subscription{}).Where("id = ?", stored.ID).Updates(map[string]interface{}{
		"account_id":             sub.AccountID,
		"plan_tier":              sub.PlanTier,
		"status":                 sub.Status,
		"current_period_start":   sub.CurrentPeriodStart,
		"current_period_end":     sub.CurrentPeriodEnd,
		"trial_end":              sub.TrialEnd,
		"cancel_at_period_end":   sub.CancelAtPeriodEnd,
		"amount":                 sub.Amount,
		"currency":               sub.Currency,
		"billing_interval":       sub.BillingInterval,
		"source_event_timestamp": sub.SourceEventTimestamp,
		"raw_payload_json":       sub.RawPayloadJSON,
	}).Error; err != nil {
		return err
	}
	*result = ApplyUpdated
	return nil
}

func (r *gormRepository) ListSubscriptionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Pluck("subscription_id", &ids).Error
	return ids, err
}

func (r *gormRepository) FindAccountByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("external_customer_id = ?", customerID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) SaveReconciliationReport(ctx context.Context, report *models.ReconciliationReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *gormRepository) RecentReconciliationReports(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	if limit <= 0 {
		limit = 20
	}
	var reports []models.ReconciliationReport
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}
