package models

import "time"

// Subscription status values. A subscription starts incomplete, becomes
// active once the first payment clears, and ends in canceled or falls to
// past_due when a renewal fails. Canceled is terminal.
const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
)

// Subscription mirrors a provider-side recurring billing agreement.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	PlanRef                string     `gorm:"type:varchar(191);not null" json:"plan_ref"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	MetadataJSON           string     `gorm:"type:text" json:"metadata_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminalSubscriptionStatus reports whether a subscription status admits
// no further transitions. There is no resurrection from canceled.
func IsTerminalSubscriptionStatus(status string) bool {
	return status == SubscriptionStatusCanceled
}

// IsKnownSubscriptionStatus reports whether status is part of the closed
// status set.
func IsKnownSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionStatusIncomplete, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	default:
		return false
	}
}
