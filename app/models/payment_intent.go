package models

import "time"

// Payment intent status values. Pending is the only non-terminal status;
// transitions out of a terminal status are never allowed.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// PaymentIntent is the durable record of a single attempted charge. It is
// created in pending status when a checkout is opened and finalized exactly
// once by a verified webhook.
type PaymentIntent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	PublicID          string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Provider          string    `gorm:"type:varchar(20);not null;index:ux_payment_intents_provider_ref,unique,priority:1" json:"provider"`
	ProviderReference string    `gorm:"type:varchar(191);not null;index:ux_payment_intents_provider_ref,unique,priority:2" json:"provider_reference"`
	AmountMinor       int64     `gorm:"not null" json:"amount_minor"`
	Currency          string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	MetadataJSON      string    `gorm:"type:text" json:"metadata_json"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminalPaymentStatus reports whether a payment intent status admits no
// further transitions.
func IsTerminalPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusSucceeded, PaymentStatusFailed:
		return true
	default:
		return false
	}
}
