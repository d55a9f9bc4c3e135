package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attune-health/attune/app/models"
)

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// EventStore persists webhook deliveries and provides the deduplication
// check the dispatcher relies on. The insert and the duplicate decision are
// a single statement so concurrent deliveries cannot both "win".
type EventStore interface {
	CreateIfNotExists(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingErr error) error
}

type gormEventStore struct {
	db *gorm.DB
}

// NewEventStore creates a GORM-backed webhook event store.
func NewEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

// dedupEventID yields the deduplication key for a delivery. Providers that
// ship no event id still dedup on the exact payload bytes.
func dedupEventID(providerEventID, payloadJSON string) string {
	if id := strings.TrimSpace(providerEventID); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(payloadJSON))
	return "hash:" + hex.EncodeToString(sum[:])
}

func (s *gormEventStore) CreateIfNotExists(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := dedupEventID(in.ProviderEventID, in.PayloadJSON)

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (s *gormEventStore) MarkProcessed(ctx context.Context, id uint, processingErr error) error {
	if id == 0 {
		return errors.New("webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": errMsg,
		}).Error
}
