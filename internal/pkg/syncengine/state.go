package syncengine

import (
	"strings"

	"github.com/subsyncd/subsyncd/app/models"
)

// NormalizeStatus maps a provider status onto the closed local set. The
// state machine is event-driven, not graph-constrained: the provider is the
// source of truth, so no transition is forbidden here. The ordering guard in
// the write path is the only gate.
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue
	case models.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusUnpaid
	case models.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCanceled
	case models.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusIncompleteExpired
	case models.SubscriptionStatusPaused:
		return models.SubscriptionStatusPaused
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// NormalizeTier maps arbitrary provider plan names onto the known tiers.
func NormalizeTier(tier string) string {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case models.PlanTierBasic:
		return models.PlanTierBasic
	case models.PlanTierTeam:
		return models.PlanTierTeam
	case models.PlanTierPro:
		return models.PlanTierPro
	case models.PlanTierEnterprise:
		return models.PlanTierEnterprise
	default:
		return models.PlanTierFree
	}
}

// TierRank orders plan tiers so consumers can compare entitlements.
func TierRank(tier string) int {
	switch NormalizeTier(tier) {
	case models.PlanTierEnterprise:
		return 4
	case models.PlanTierPro:
		return 3
	case models.PlanTierTeam:
		return 2
	case models.PlanTierBasic:
		return 1
	default:
		return 0
	}
}

// NormalizeInterval collapses provider billing intervals to month/year.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return strings.ToLower(strings.TrimSpace(interval))
	default:
		return models.BillingIntervalUnknown
	}
}

// IsEntitlingStatus reports whether a status still grants feature access.
// Tier gating itself lives outside the engine; this is a convenience for
// read-only consumers.
func IsEntitlingStatus(status string) bool {
	switch NormalizeStatus(status) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
