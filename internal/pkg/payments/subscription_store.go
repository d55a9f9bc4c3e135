package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

// UpsertSubscriptionInput is the normalized input for syncing provider
// subscription state into the local table.
type UpsertSubscriptionInput struct {
	UserID                 uint
	Provider               gateway.Provider
	ProviderSubscriptionID string
	Status                 string
	PlanRef                string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       *time.Time
	Metadata               map[string]string
}

// SubscriptionStore is the durable record of every recurring-billing
// agreement plus the derived per-user tier state. SetStatus follows the
// same idempotency contract as IntentStore.Transition.
type SubscriptionStore interface {
	Upsert(ctx context.Context, in UpsertSubscriptionInput) (*models.Subscription, error)
	SetStatus(ctx context.Context, provider gateway.Provider, providerSubscriptionID, status string) (*models.Subscription, error)
	GetByProviderID(ctx context.Context, provider gateway.Provider, providerSubscriptionID string) (*models.Subscription, error)
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	RecordTier(ctx context.Context, userID uint, tier string, trialEndsAt *time.Time, subscriptionID *uint) (*models.UserSubscriptionState, error)
	GetState(ctx context.Context, userID uint) (*models.UserSubscriptionState, error)
}

type gormSubscriptionStore struct {
	db *gorm.DB
}

// NewSubscriptionStore creates a GORM-backed subscription store.
func NewSubscriptionStore(db *gorm.DB) SubscriptionStore {
	return &gormSubscriptionStore{db: db}
}

func (s *gormSubscriptionStore) Upsert(ctx context.Context, in UpsertSubscriptionInput) (*models.Subscription, error) {
	if in.UserID == 0 || in.ProviderSubscriptionID == "" {
		return nil, errors.New("user_id and provider_subscription_id are required")
	}
	status := in.Status
	if status == "" {
		status = models.SubscriptionStatusIncomplete
	}
	if !models.IsKnownSubscriptionStatus(status) {
		return nil, fmt.Errorf("unknown subscription status: %q", status)
	}

	metadataJSON := ""
	if len(in.Metadata) > 0 {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, err
		}
		metadataJSON = string(b)
	}

	sub := &models.Subscription{
		UserID:                 in.UserID,
		Provider:               string(in.Provider),
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		Status:                 status,
		PlanRef:                in.PlanRef,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		MetadataJSON:           metadataJSON,
	}
	// Status is deliberately excluded from the conflict update: status only
	// moves through SetStatus so the no-resurrection rule holds.
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_ref",
			"cancel_at_period_end",
			"current_period_end",
			"metadata_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return nil, err
	}

	stored, err := s.GetByProviderID(ctx, in.Provider, in.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if stored.Status != status {
		switched, err := s.SetStatus(ctx, in.Provider, in.ProviderSubscriptionID, status)
		if err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				return stored, nil
			}
			return nil, err
		}
		return switched, nil
	}
	return stored, nil
}

// SetStatus moves a subscription with a single guarded UPDATE, mirroring
// IntentStore.Transition: repeat deliveries are no-ops, transitions out of
// canceled are rejected.
func (s *gormSubscriptionStore) SetStatus(ctx context.Context, provider gateway.Provider, providerSubscriptionID, status string) (*models.Subscription, error) {
	if !models.IsKnownSubscriptionStatus(status) {
		return nil, fmt.Errorf("unknown subscription status: %q", status)
	}

	tx := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("provider = ? AND provider_subscription_id = ? AND status <> ? AND status <> ?",
			string(provider), providerSubscriptionID, models.SubscriptionStatusCanceled, status).
		Update("status", status)
	if tx.Error != nil {
		return nil, tx.Error
	}

	if tx.RowsAffected == 0 {
		current, err := s.GetByProviderID(ctx, provider, providerSubscriptionID)
		if err != nil {
			return nil, err
		}
		if current.Status == status {
			return current, nil
		}
		return nil, ErrAlreadyFinalized
	}

	return s.GetByProviderID(ctx, provider, providerSubscriptionID)
}

func (s *gormSubscriptionStore) GetByProviderID(ctx context.Context, provider gateway.Provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", string(provider), providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownSubscription
		}
		return nil, err
	}
	return &sub, nil
}

func (s *gormSubscriptionStore) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownSubscription
		}
		return nil, err
	}
	return &sub, nil
}

func (s *gormSubscriptionStore) RecordTier(ctx context.Context, userID uint, tier string, trialEndsAt *time.Time, subscriptionID *uint) (*models.UserSubscriptionState, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	if err := models.ValidateTierState(tier, trialEndsAt); err != nil {
		return nil, err
	}

	state := &models.UserSubscriptionState{
		UserID:         userID,
		Tier:           tier,
		TrialEndsAt:    trialEndsAt,
		SubscriptionID: subscriptionID,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"trial_ends_at",
			"subscription_id",
			"updated_at",
		}),
	}).Create(state).Error; err != nil {
		return nil, err
	}

	return s.GetState(ctx, userID)
}

// GetState returns the stored tier state, or an unpersisted free-tier
// default when the user has none yet.
func (s *gormSubscriptionStore) GetState(ctx context.Context, userID uint) (*models.UserSubscriptionState, error) {
	var state models.UserSubscriptionState
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.UserSubscriptionState{UserID: userID, Tier: models.TierFree}, nil
		}
		return nil, err
	}
	return &state, nil
}
