package models

import (
	"errors"
	"time"
)

// Subscription tiers. Trial is a time-boxed free-access state with an expiry
// timestamp, distinct from the permanent free tier.
const (
	TierFree    = "free"
	TierTrial   = "trial"
	TierPremium = "premium"
)

// ErrInvalidTierState is returned when a tier/trial-expiry combination
// violates the trial invariant.
var ErrInvalidTierState = errors.New("trial expiry must be set if and only if tier is trial")

// UserSubscriptionState is the derived, user-scoped tier view. Invariant:
// TrialEndsAt is non-nil iff Tier == trial.
type UserSubscriptionState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Tier           string     `gorm:"type:varchar(16);not null;default:'free';index" json:"tier"`
	TrialEndsAt    *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	SubscriptionID *uint      `gorm:"default:null" json:"subscription_id,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ValidateTierState enforces the trial invariant before any tier write.
func ValidateTierState(tier string, trialEndsAt *time.Time) error {
	switch tier {
	case TierTrial:
		if trialEndsAt == nil {
			return ErrInvalidTierState
		}
	case TierFree, TierPremium:
		if trialEndsAt != nil {
			return ErrInvalidTierState
		}
	default:
		return errors.New("unknown tier: " + tier)
	}
	return nil
}
