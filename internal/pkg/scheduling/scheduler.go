package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attune-health/attune/app/models"
)

// recurringSessionInterval is the cadence for subscription-backed sessions.
const recurringSessionInterval = 7 * 24 * time.Hour

// Scheduler maintains therapy-session bookings downstream of the payment
// pipeline. It is a side-effect collaborator: callers must not let its
// failures affect financial state.
type Scheduler struct {
	db *gorm.DB
}

// New creates a DB-backed scheduler.
func New(db *gorm.DB) *Scheduler {
	return &Scheduler{db: db}
}

// MarkSessionPaid flags the session referenced by the intent's metadata as
// paid. Intents without a session reference are a no-op.
func (s *Scheduler) MarkSessionPaid(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.MetadataJSON == "" {
		return nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(intent.MetadataJSON), &metadata); err != nil {
		return err
	}
	sessionID := metadata["session_id"]
	if sessionID == "" {
		return nil
	}

	return s.db.WithContext(ctx).
		Model(&models.TherapySession{}).
		Where("public_id = ?", sessionID).
		Updates(map[string]interface{}{
			"paid":              true,
			"payment_intent_id": intent.ID,
		}).Error
}

// ScheduleNextSession books the user's next recurring session one interval
// after their latest scheduled one, or one interval from now if none is on
// the books.
func (s *Scheduler) ScheduleNextSession(ctx context.Context, userID uint) error {
	base := time.Now()

	var latest models.TherapySession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SessionStatusScheduled).
		Order("scheduled_at DESC").
		First(&latest).Error
	therapistID := uint(0)
	if err == nil {
		if latest.ScheduledAt.After(base) {
			base = latest.ScheduledAt
		}
		therapistID = latest.TherapistID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	next := &models.TherapySession{
		PublicID:    uuid.NewString(),
		UserID:      userID,
		TherapistID: therapistID,
		ScheduledAt: base.Add(recurringSessionInterval),
		Status:      models.SessionStatusScheduled,
	}
	return s.db.WithContext(ctx).Create(next).Error
}
