package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

// TrialPeriodDays is the length of the free trial granted by SetTier.
const TrialPeriodDays = 14

const stateCacheTTL = 30 * time.Second

// UserDirectory resolves the contact address checkout calls need.
type UserDirectory interface {
	GetEmail(ctx context.Context, userID uint) (string, error)
}

type gormUserDirectory struct {
	db *gorm.DB
}

// NewUserDirectory creates a DB-backed user lookup.
func NewUserDirectory(db *gorm.DB) UserDirectory {
	return &gormUserDirectory{db: db}
}

func (d *gormUserDirectory) GetEmail(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Select("email").First(&user, userID).Error; err != nil {
		return "", err
	}
	return user.Email, nil
}

// StateCache is the optional read cache for subscription status lookups.
type StateCache interface {
	Get(key string) (string, error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
}

// InitializePaymentInput is the user-facing request to open a payment flow.
type InitializePaymentInput struct {
	UserID      uint
	AmountMinor int64
	Currency    string
	Provider    string
	Description string
	SessionID   string
}

// PaymentInitResult is returned to the client to continue the payment flow.
// Exactly one of ClientSecret / CheckoutURL is set, depending on the
// provider's flow shape.
type PaymentInitResult struct {
	IntentID     string `json:"intent_id"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"client_secret,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

// SetTierInput is the user-facing request to change subscription tier.
type SetTierInput struct {
	UserID   uint
	Tier     string
	Provider string
	PlanRef  string
}

// TierResult reports the applied tier change.
type TierResult struct {
	Tier           string     `json:"tier"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	ClientSecret   string     `json:"client_secret,omitempty"`
	CheckoutURL    string     `json:"checkout_url,omitempty"`
}

// TrialInfo reports trial tier state for a user.
type TrialInfo struct {
	Tier          string     `json:"tier"`
	RemainingDays int        `json:"remaining_days"`
	TrialEndsAt   *time.Time `json:"trial_ends_at,omitempty"`
}

// SubscriptionStatus is the composite status view consumed by the route
// layer.
type SubscriptionStatus struct {
	Tier               string               `json:"tier"`
	TrialRemainingDays int                  `json:"trial_remaining_days"`
	Subscription       *models.Subscription `json:"subscription,omitempty"`
}

// Manager is the user-facing payment/subscription API. It composes the
// gateway adapters with the durable stores; it never finalizes a payment
// intent itself.
type Manager struct {
	registry AdapterResolver
	intents  IntentStore
	subs     SubscriptionStore
	users    UserDirectory
	cache    StateCache
	now      func() time.Time
}

// NewManager wires a manager. cache may be nil to disable status caching.
func NewManager(registry AdapterResolver, intents IntentStore, subs SubscriptionStore, users UserDirectory, cache StateCache) *Manager {
	return &Manager{
		registry: registry,
		intents:  intents,
		subs:     subs,
		users:    users,
		cache:    cache,
		now:      time.Now,
	}
}

// InitializePayment opens a payment flow with the requested provider and
// persists the pending intent. On adapter failure nothing is persisted; the
// caller retries the whole operation.
func (m *Manager) InitializePayment(ctx context.Context, in InitializePaymentInput) (*PaymentInitResult, error) {
	provider, err := gateway.ParseProvider(in.Provider)
	if err != nil {
		return nil, err
	}
	if in.AmountMinor <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", in.AmountMinor)
	}

	adapter, err := m.registry.Adapter(provider)
	if err != nil {
		return nil, err
	}
	email, err := m.users.GetEmail(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", in.UserID, err)
	}

	metadata := map[string]string{}
	if in.SessionID != "" {
		metadata["session_id"] = in.SessionID
	}

	checkout, err := adapter.CreateCheckout(ctx, gateway.CheckoutRequest{
		UserID:      in.UserID,
		Email:       email,
		AmountMinor: in.AmountMinor,
		Currency:    in.Currency,
		Description: in.Description,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	intent, err := m.intents.Create(ctx, CreateIntentInput{
		UserID:            in.UserID,
		Provider:          provider,
		ProviderReference: checkout.ProviderReference,
		AmountMinor:       in.AmountMinor,
		Currency:          in.Currency,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, err
	}

	return &PaymentInitResult{
		IntentID:     intent.PublicID,
		Provider:     string(provider),
		ClientSecret: checkout.ClientSecret,
		CheckoutURL:  checkout.CheckoutURL,
		AmountMinor:  intent.AmountMinor,
		Currency:     intent.Currency,
	}, nil
}

// SetTier applies a tier change. Premium requires a plan reference and only
// records the tier after the provider call succeeded.
func (m *Manager) SetTier(ctx context.Context, in SetTierInput) (*TierResult, error) {
	defer m.invalidateState(in.UserID)

	switch in.Tier {
	case models.TierFree:
		if _, err := m.subs.RecordTier(ctx, in.UserID, models.TierFree, nil, nil); err != nil {
			return nil, err
		}
		return &TierResult{Tier: models.TierFree}, nil

	case models.TierTrial:
		expiry := m.now().Add(TrialPeriodDays * 24 * time.Hour)
		if _, err := m.subs.RecordTier(ctx, in.UserID, models.TierTrial, &expiry, nil); err != nil {
			return nil, err
		}
		return &TierResult{Tier: models.TierTrial, TrialEndsAt: &expiry}, nil

	case models.TierPremium:
		return m.activatePremium(ctx, in)

	default:
		return nil, errors.New("unknown tier: " + in.Tier)
	}
}

func (m *Manager) activatePremium(ctx context.Context, in SetTierInput) (*TierResult, error) {
	if in.PlanRef == "" {
		return nil, ErrPlanRequired
	}
	provider, err := gateway.ParseProvider(in.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := m.registry.Adapter(provider)
	if err != nil {
		return nil, err
	}
	email, err := m.users.GetEmail(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", in.UserID, err)
	}

	created, err := adapter.CreateSubscription(ctx, gateway.SubscriptionRequest{
		UserID:  in.UserID,
		Email:   email,
		PlanRef: in.PlanRef,
	})
	if err != nil {
		return nil, err
	}

	sub, err := m.subs.Upsert(ctx, UpsertSubscriptionInput{
		UserID:                 in.UserID,
		Provider:               provider,
		ProviderSubscriptionID: created.ProviderSubscriptionID,
		Status:                 models.SubscriptionStatusIncomplete,
		PlanRef:                in.PlanRef,
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.subs.RecordTier(ctx, in.UserID, models.TierPremium, nil, &sub.ID); err != nil {
		return nil, err
	}

	return &TierResult{
		Tier:           models.TierPremium,
		SubscriptionID: created.ProviderSubscriptionID,
		ClientSecret:   created.ClientSecret,
		CheckoutURL:    created.CheckoutURL,
	}, nil
}

// GetTrialInfo reports remaining whole trial days, rounding partial days
// up, and 0 once expired. It never downgrades; the webhook path and tier
// checks handle that lazily.
func (m *Manager) GetTrialInfo(ctx context.Context, userID uint) (*TrialInfo, error) {
	state, err := m.subs.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.trialInfo(state), nil
}

func (m *Manager) trialInfo(state *models.UserSubscriptionState) *TrialInfo {
	info := &TrialInfo{Tier: state.Tier}
	if state.Tier != models.TierTrial || state.TrialEndsAt == nil {
		return info
	}

	info.TrialEndsAt = state.TrialEndsAt
	until := state.TrialEndsAt.Sub(m.now())
	if until <= 0 {
		return info
	}
	info.RemainingDays = int((until + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	return info
}

// GetStatus returns the composite subscription view, served from the read
// cache when fresh.
func (m *Manager) GetStatus(ctx context.Context, userID uint) (*SubscriptionStatus, error) {
	key := stateCacheKey(userID)
	if m.cache != nil {
		if cached, err := m.cache.Get(key); err == nil && cached != "" {
			var status SubscriptionStatus
			if err := json.Unmarshal([]byte(cached), &status); err == nil {
				return &status, nil
			}
		}
	}

	state, err := m.subs.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	trial := m.trialInfo(state)
	status := &SubscriptionStatus{
		Tier:               trial.Tier,
		TrialRemainingDays: trial.RemainingDays,
	}

	if state.SubscriptionID != nil {
		sub, err := m.subs.GetByID(ctx, *state.SubscriptionID)
		if err == nil {
			status.Subscription = sub
		} else if !errors.Is(err, ErrUnknownSubscription) {
			return nil, err
		}
	}

	if m.cache != nil {
		if b, err := json.Marshal(status); err == nil {
			if err := m.cache.Set(key, string(b), stateCacheTTL); err != nil {
				log.Printf("subscription status cache write for user %d failed: %v", userID, err)
			}
		}
	}
	return status, nil
}

func (m *Manager) invalidateState(userID uint) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(stateCacheKey(userID)); err != nil {
		log.Printf("subscription status cache invalidation for user %d failed: %v", userID, err)
	}
}

func stateCacheKey(userID uint) string {
	return fmt.Sprintf("billing:state:%d", userID)
}
