package models

import "time"

// Therapy session status values.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusCompleted = "completed"
	SessionStatusCanceled  = "canceled"
)

// TherapySession is a booked counseling session. The payment core only
// touches the Paid flag (after a verified payment) and creates follow-up
// sessions for recurring subscriptions.
type TherapySession struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PublicID        string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	TherapistID     uint      `gorm:"index" json:"therapist_id"`
	ScheduledAt     time.Time `gorm:"not null;index" json:"scheduled_at"`
	DurationMinutes int       `gorm:"not null;default:50" json:"duration_minutes"`
	Status          string    `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	Paid            bool      `gorm:"default:false;index" json:"paid"`
	PaymentIntentID *uint     `gorm:"default:null" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
