package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

type fakeUserDirectory struct {
	email string
	err   error
}

func (f *fakeUserDirectory) GetEmail(_ context.Context, _ uint) (string, error) {
	return f.email, f.err
}

type memoryCache struct {
	values map[string]string
	gets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Get(key string) (string, error) {
	c.gets++
	return c.values[key], nil
}

func (c *memoryCache) Set(key, value string, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func (c *memoryCache) Delete(key string) error {
	delete(c.values, key)
	return nil
}

type managerFixture struct {
	manager *Manager
	adapter *fakeAdapter
	intents *fakeIntentStore
	subs    *fakeSubscriptionStore
	cache   *memoryCache
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		adapter: &fakeAdapter{provider: gateway.ProviderStripe},
		intents: &fakeIntentStore{},
		subs:    &fakeSubscriptionStore{},
		cache:   newMemoryCache(),
	}
	f.manager = NewManager(&fakeResolver{adapter: f.adapter}, f.intents, f.subs, &fakeUserDirectory{email: "pair@example.com"}, f.cache)
	return f
}

func TestInitializePaymentCreatesPendingIntent(t *testing.T) {
	f := newManagerFixture()
	f.adapter.checkout = &gateway.CheckoutResult{ProviderReference: "pi_1", ClientSecret: "pi_1_secret"}

	result, err := f.manager.InitializePayment(context.Background(), InitializePaymentInput{
		UserID:      7,
		AmountMinor: 12500,
		Currency:    "eur",
		Provider:    "stripe",
		Description: "Couples session",
		SessionID:   "8d4f1c2e-9a7b-4c3d-8e5f-6a7b8c9d0e1f",
	})
	if err != nil {
		t.Fatalf("InitializePayment returned error: %v", err)
	}
	if result.ClientSecret != "pi_1_secret" {
		t.Fatalf("client secret = %q", result.ClientSecret)
	}
	if result.IntentID == "" {
		t.Fatalf("expected public intent id")
	}
	if len(f.intents.created) != 1 {
		t.Fatalf("expected one intent created, got %d", len(f.intents.created))
	}
	created := f.intents.created[0]
	if created.ProviderReference != "pi_1" || created.AmountMinor != 12500 {
		t.Fatalf("unexpected intent input: %+v", created)
	}
	if created.Metadata["session_id"] != "8d4f1c2e-9a7b-4c3d-8e5f-6a7b8c9d0e1f" {
		t.Fatalf("session id not carried in metadata: %v", created.Metadata)
	}
}

func TestInitializePaymentUnsupportedProvider(t *testing.T) {
	f := newManagerFixture()

	_, err := f.manager.InitializePayment(context.Background(), InitializePaymentInput{
		UserID:      7,
		AmountMinor: 100,
		Currency:    "eur",
		Provider:    "paypal",
	})
	if !errors.Is(err, gateway.ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
	if f.adapter.checkoutCalls != 0 {
		t.Fatalf("provider must be validated before any gateway call")
	}
}

func TestInitializePaymentRejectsNonPositiveAmount(t *testing.T) {
	f := newManagerFixture()

	_, err := f.manager.InitializePayment(context.Background(), InitializePaymentInput{
		UserID:      7,
		AmountMinor: 0,
		Currency:    "eur",
		Provider:    "stripe",
	})
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if f.adapter.checkoutCalls != 0 {
		t.Fatalf("invalid amount must not reach the gateway")
	}
}

func TestInitializePaymentAdapterFailurePersistsNothing(t *testing.T) {
	f := newManagerFixture()
	f.adapter.checkoutErr = gateway.ErrGatewayUnavailable

	_, err := f.manager.InitializePayment(context.Background(), InitializePaymentInput{
		UserID:      7,
		AmountMinor: 100,
		Currency:    "eur",
		Provider:    "stripe",
	})
	if !errors.Is(err, gateway.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if len(f.intents.created) != 0 {
		t.Fatalf("no intent may be persisted when the gateway call fails")
	}
}

func TestSetTierTrialRecordsExpiry(t *testing.T) {
	f := newManagerFixture()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return now }

	result, err := f.manager.SetTier(context.Background(), SetTierInput{UserID: 7, Tier: models.TierTrial})
	if err != nil {
		t.Fatalf("SetTier returned error: %v", err)
	}
	want := now.Add(TrialPeriodDays * 24 * time.Hour)
	if result.TrialEndsAt == nil || !result.TrialEndsAt.Equal(want) {
		t.Fatalf("trial expiry = %v, want %v", result.TrialEndsAt, want)
	}
	if f.subs.state == nil || f.subs.state.Tier != models.TierTrial {
		t.Fatalf("tier state not recorded: %+v", f.subs.state)
	}
}

func TestSetTierPremiumRequiresPlan(t *testing.T) {
	f := newManagerFixture()

	_, err := f.manager.SetTier(context.Background(), SetTierInput{UserID: 7, Tier: models.TierPremium, Provider: "stripe"})
	if !errors.Is(err, ErrPlanRequired) {
		t.Fatalf("expected ErrPlanRequired, got %v", err)
	}
}

func TestSetTierPremiumOpensIncompleteSubscription(t *testing.T) {
	f := newManagerFixture()
	f.adapter.subscription = &gateway.SubscriptionResult{ProviderSubscriptionID: "sub_1", ClientSecret: "sub_secret"}

	result, err := f.manager.SetTier(context.Background(), SetTierInput{
		UserID:   7,
		Tier:     models.TierPremium,
		Provider: "stripe",
		PlanRef:  "price_premium_monthly",
	})
	if err != nil {
		t.Fatalf("SetTier returned error: %v", err)
	}
	if result.SubscriptionID != "sub_1" || result.ClientSecret != "sub_secret" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(f.subs.upserts) != 1 || f.subs.upserts[0].Status != models.SubscriptionStatusIncomplete {
		t.Fatalf("expected incomplete subscription upsert, got %+v", f.subs.upserts)
	}
	if f.subs.state == nil || f.subs.state.Tier != models.TierPremium {
		t.Fatalf("premium tier not recorded: %+v", f.subs.state)
	}
}

func TestSetTierFreeClearsTrial(t *testing.T) {
	f := newManagerFixture()
	expiry := time.Now().Add(24 * time.Hour)
	f.subs.state = &models.UserSubscriptionState{UserID: 7, Tier: models.TierTrial, TrialEndsAt: &expiry}

	result, err := f.manager.SetTier(context.Background(), SetTierInput{UserID: 7, Tier: models.TierFree})
	if err != nil {
		t.Fatalf("SetTier returned error: %v", err)
	}
	if result.Tier != models.TierFree || result.TrialEndsAt != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.subs.state.TrialEndsAt != nil {
		t.Fatalf("trial expiry must be cleared on the free tier")
	}
}

func TestGetTrialInfoRoundsPartialDaysUp(t *testing.T) {
	f := newManagerFixture()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return now }

	tests := []struct {
		until time.Duration
		want  int
	}{
		{until: 13*24*time.Hour + time.Hour, want: 14},
		{until: 13 * 24 * time.Hour, want: 13},
		{until: time.Hour, want: 1},
		{until: -time.Hour, want: 0},
	}

	for _, tt := range tests {
		expiry := now.Add(tt.until)
		f.subs.state = &models.UserSubscriptionState{UserID: 7, Tier: models.TierTrial, TrialEndsAt: &expiry}

		info, err := f.manager.GetTrialInfo(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetTrialInfo returned error: %v", err)
		}
		if info.RemainingDays != tt.want {
			t.Fatalf("remaining days for %v = %d, want %d", tt.until, info.RemainingDays, tt.want)
		}
	}
}

func TestGetTrialInfoExpiredTrialKeepsTier(t *testing.T) {
	f := newManagerFixture()
	expiry := time.Now().Add(-48 * time.Hour)
	f.subs.state = &models.UserSubscriptionState{UserID: 7, Tier: models.TierTrial, TrialEndsAt: &expiry}

	info, err := f.manager.GetTrialInfo(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTrialInfo returned error: %v", err)
	}
	// Expiry zeroes the countdown but never silently rewrites the tier.
	if info.Tier != models.TierTrial || info.RemainingDays != 0 {
		t.Fatalf("unexpected trial info: %+v", info)
	}
}

func TestGetTrialInfoNonTrialTier(t *testing.T) {
	f := newManagerFixture()

	info, err := f.manager.GetTrialInfo(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTrialInfo returned error: %v", err)
	}
	if info.Tier != models.TierFree || info.RemainingDays != 0 || info.TrialEndsAt != nil {
		t.Fatalf("unexpected trial info: %+v", info)
	}
}

func TestGetStatusServedFromCache(t *testing.T) {
	f := newManagerFixture()
	cached, _ := json.Marshal(SubscriptionStatus{Tier: models.TierPremium})
	f.cache.values[stateCacheKey(7)] = string(cached)

	status, err := f.manager.GetStatus(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status.Tier != models.TierPremium {
		t.Fatalf("expected cached premium status, got %+v", status)
	}
}

func TestGetStatusPopulatesCache(t *testing.T) {
	f := newManagerFixture()

	status, err := f.manager.GetStatus(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status.Tier != models.TierFree {
		t.Fatalf("expected free default, got %+v", status)
	}
	if f.cache.values[stateCacheKey(7)] == "" {
		t.Fatalf("expected status written to cache")
	}
	if f.subs.stateReads != 1 {
		t.Fatalf("expected a single state read, got %d", f.subs.stateReads)
	}
}

func TestSetTierInvalidatesCache(t *testing.T) {
	f := newManagerFixture()
	f.cache.values[stateCacheKey(7)] = `{"tier":"free"}`

	if _, err := f.manager.SetTier(context.Background(), SetTierInput{UserID: 7, Tier: models.TierFree}); err != nil {
		t.Fatalf("SetTier returned error: %v", err)
	}
	if _, ok := f.cache.values[stateCacheKey(7)]; ok {
		t.Fatalf("expected cache entry invalidated")
	}
}
