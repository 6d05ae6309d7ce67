package models

import "time"

// Subscription status values as reported by the billing provider. The set is
// closed; statuses outside it are normalized to incomplete before storage.
const (
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusActive            = "active"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusPaused            = "paused"
)

// Plan tiers ordered from lowest to highest entitlement.
const (
	PlanTierFree       = "free"
	PlanTierBasic      = "basic"
	PlanTierTeam       = "team"
	PlanTierPro        = "pro"
	PlanTierEnterprise = "enterprise"
)

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

// Subscription mirrors one provider-side billing relationship. Rows are
// created on the first event or reconciliation pull for an unknown
// subscription id and are never physically deleted; terminal lifecycle
// states are represented as status values so billing history survives.
//
// SourceEventTimestamp carries the provider-side timestamp of the last event
// that wrote this row and is monotonically non-decreasing per subscription.
// UpdatedAt is the local write time and must never be used for conflict
// resolution.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID       string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_subscription_id" json:"subscription_id"`
	AccountID            uint       `gorm:"index" json:"account_id"`
	PlanTier             string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_tier"`
	Status               string     `gorm:"type:varchar(32);not null;index" json:"status"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEnd             *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	Amount               int64      `gorm:"not null;default:0" json:"amount"`
	Currency             string     `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	BillingInterval      string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	SourceEventTimestamp time.Time  `gorm:"type:timestamp;not null;index" json:"source_event_timestamp"`
	RawPayloadJSON       string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
