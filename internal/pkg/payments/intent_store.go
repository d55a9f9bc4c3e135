package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

// CreateIntentInput is the normalized input for persisting a new payment
// attempt.
type CreateIntentInput struct {
	UserID            uint
	Provider          gateway.Provider
	ProviderReference string
	AmountMinor       int64
	Currency          string
	Metadata          map[string]string
}

// IntentStore is the durable record of every payment attempt. Transition is
// idempotent: repeating an applied transition is a no-op success, while a
// conflicting terminal transition fails with ErrAlreadyFinalized.
type IntentStore interface {
	Create(ctx context.Context, in CreateIntentInput) (*models.PaymentIntent, error)
	Transition(ctx context.Context, provider gateway.Provider, providerReference, newStatus string) (*models.PaymentIntent, error)
	GetByReference(ctx context.Context, provider gateway.Provider, providerReference string) (*models.PaymentIntent, error)
}

type gormIntentStore struct {
	db *gorm.DB
}

// NewIntentStore creates a GORM-backed intent store.
func NewIntentStore(db *gorm.DB) IntentStore {
	return &gormIntentStore{db: db}
}

func (s *gormIntentStore) Create(ctx context.Context, in CreateIntentInput) (*models.PaymentIntent, error) {
	if in.UserID == 0 || in.ProviderReference == "" {
		return nil, errors.New("user_id and provider_reference are required")
	}
	if in.AmountMinor <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", in.AmountMinor)
	}

	metadataJSON := ""
	if len(in.Metadata) > 0 {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, err
		}
		metadataJSON = string(b)
	}

	intent := &models.PaymentIntent{
		PublicID:          uuid.NewString(),
		UserID:            in.UserID,
		Provider:          string(in.Provider),
		ProviderReference: in.ProviderReference,
		AmountMinor:       in.AmountMinor,
		Currency:          strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:            models.PaymentStatusPending,
		MetadataJSON:      metadataJSON,
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intent, nil
}

// Transition finalizes a pending intent with a single guarded UPDATE.
// Concurrent deliveries for the same reference race on the WHERE clause, so
// exactly one of them can win regardless of how many instances run.
func (s *gormIntentStore) Transition(ctx context.Context, provider gateway.Provider, providerReference, newStatus string) (*models.PaymentIntent, error) {
	if !models.IsTerminalPaymentStatus(newStatus) {
		return nil, fmt.Errorf("illegal payment intent transition target: %q", newStatus)
	}

	tx := s.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("provider = ? AND provider_reference = ? AND status = ?",
			string(provider), providerReference, models.PaymentStatusPending).
		Update("status", newStatus)
	if tx.Error != nil {
		return nil, tx.Error
	}

	if tx.RowsAffected == 0 {
		// Nothing was pending: unknown reference, a repeat delivery, or a
		// conflicting terminal status.
		current, err := s.GetByReference(ctx, provider, providerReference)
		if err != nil {
			return nil, err
		}
		if current.Status == newStatus {
			return current, nil
		}
		return nil, ErrAlreadyFinalized
	}

	return s.GetByReference(ctx, provider, providerReference)
}

func (s *gormIntentStore) GetByReference(ctx context.Context, provider gateway.Provider, providerReference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_reference = ?", string(provider), providerReference).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownIntent
		}
		return nil, err
	}
	return &intent, nil
}
