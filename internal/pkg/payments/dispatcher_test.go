package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

// fakeAdapter returns a canned event or error from VerifyAndParse.
type fakeAdapter struct {
	provider      gateway.Provider
	event         *gateway.PaymentEvent
	verifyErr     error
	checkout      *gateway.CheckoutResult
	checkoutErr   error
	subscription  *gateway.SubscriptionResult
	subscribeErr  error
	checkoutCalls int
}

func (f *fakeAdapter) Provider() gateway.Provider { return f.provider }

func (f *fakeAdapter) CreateCheckout(_ context.Context, _ gateway.CheckoutRequest) (*gateway.CheckoutResult, error) {
	f.checkoutCalls++
	return f.checkout, f.checkoutErr
}

func (f *fakeAdapter) CreateSubscription(_ context.Context, _ gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error) {
	return f.subscription, f.subscribeErr
}

func (f *fakeAdapter) VerifyAndParse(_ context.Context, _ []byte, _ map[string]string) (*gateway.PaymentEvent, error) {
	return f.event, f.verifyErr
}

type fakeResolver struct {
	adapter gateway.Adapter
	err     error
}

func (f *fakeResolver) Adapter(_ gateway.Provider) (gateway.Adapter, error) {
	return f.adapter, f.err
}

type fakeIntentStore struct {
	created       []CreateIntentInput
	transitioned  []string
	transitionOut *models.PaymentIntent
	transitionErr error
	createErr     error
}

func (f *fakeIntentStore) Create(_ context.Context, in CreateIntentInput) (*models.PaymentIntent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	return &models.PaymentIntent{
		ID:                1,
		PublicID:          "pub-1",
		UserID:            in.UserID,
		Provider:          string(in.Provider),
		ProviderReference: in.ProviderReference,
		AmountMinor:       in.AmountMinor,
		Currency:          in.Currency,
		Status:            models.PaymentStatusPending,
	}, nil
}

func (f *fakeIntentStore) Transition(_ context.Context, _ gateway.Provider, ref, newStatus string) (*models.PaymentIntent, error) {
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	f.transitioned = append(f.transitioned, ref+":"+newStatus)
	if f.transitionOut != nil {
		return f.transitionOut, nil
	}
	return &models.PaymentIntent{ID: 1, PublicID: "pub-1", UserID: 7, ProviderReference: ref, Status: newStatus}, nil
}

func (f *fakeIntentStore) GetByReference(_ context.Context, _ gateway.Provider, _ string) (*models.PaymentIntent, error) {
	return f.transitionOut, nil
}

type fakeSubscriptionStore struct {
	sub          *models.Subscription
	getErr       error
	upserts      []UpsertSubscriptionInput
	statusMoves  []string
	setStatusErr error
	tiers        []string
	state        *models.UserSubscriptionState
	stateReads   int
}

func (f *fakeSubscriptionStore) Upsert(_ context.Context, in UpsertSubscriptionInput) (*models.Subscription, error) {
	f.upserts = append(f.upserts, in)
	return &models.Subscription{
		ID:                     9,
		UserID:                 in.UserID,
		Provider:               string(in.Provider),
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		Status:                 in.Status,
		PlanRef:                in.PlanRef,
	}, nil
}

func (f *fakeSubscriptionStore) SetStatus(_ context.Context, _ gateway.Provider, subID, status string) (*models.Subscription, error) {
	if f.setStatusErr != nil {
		return nil, f.setStatusErr
	}
	f.statusMoves = append(f.statusMoves, subID+":"+status)
	return &models.Subscription{ID: 9, UserID: 7, ProviderSubscriptionID: subID, Status: status}, nil
}

func (f *fakeSubscriptionStore) GetByProviderID(_ context.Context, _ gateway.Provider, _ string) (*models.Subscription, error) {
	return f.sub, f.getErr
}

func (f *fakeSubscriptionStore) GetByID(_ context.Context, _ uint) (*models.Subscription, error) {
	if f.sub == nil {
		return nil, ErrUnknownSubscription
	}
	return f.sub, nil
}

func (f *fakeSubscriptionStore) RecordTier(_ context.Context, userID uint, tier string, trialEndsAt *time.Time, subscriptionID *uint) (*models.UserSubscriptionState, error) {
	if err := models.ValidateTierState(tier, trialEndsAt); err != nil {
		return nil, err
	}
	f.tiers = append(f.tiers, tier)
	f.state = &models.UserSubscriptionState{UserID: userID, Tier: tier, TrialEndsAt: trialEndsAt, SubscriptionID: subscriptionID}
	return f.state, nil
}

func (f *fakeSubscriptionStore) GetState(_ context.Context, userID uint) (*models.UserSubscriptionState, error) {
	f.stateReads++
	if f.state == nil {
		return &models.UserSubscriptionState{UserID: userID, Tier: models.TierFree}, nil
	}
	return f.state, nil
}

type fakeEventStore struct {
	duplicate bool
	stored    *models.WebhookEvent
	createErr error
	inputs    []WebhookEventInput
	processed []error
}

func (f *fakeEventStore) CreateIfNotExists(_ context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	if f.createErr != nil {
		return false, nil, f.createErr
	}
	f.inputs = append(f.inputs, in)
	if f.stored == nil {
		f.stored = &models.WebhookEvent{ID: 5}
	}
	return !f.duplicate, f.stored, nil
}

func (f *fakeEventStore) MarkProcessed(_ context.Context, _ uint, processingErr error) error {
	f.processed = append(f.processed, processingErr)
	now := time.Now()
	f.stored.ProcessedAt = &now
	f.stored.ProcessingError = ""
	if processingErr != nil {
		f.stored.ProcessingError = processingErr.Error()
	}
	return nil
}

type fakeNotifier struct {
	sent []uint
}

func (f *fakeNotifier) SendPaymentConfirmation(_ context.Context, userID uint, _ NotificationContext) error {
	f.sent = append(f.sent, userID)
	return nil
}

type fakeScheduler struct {
	paid      []string
	scheduled []uint
}

func (f *fakeScheduler) MarkSessionPaid(_ context.Context, intent *models.PaymentIntent) error {
	f.paid = append(f.paid, intent.ProviderReference)
	return nil
}

func (f *fakeScheduler) ScheduleNextSession(_ context.Context, userID uint) error {
	f.scheduled = append(f.scheduled, userID)
	return nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	adapter    *fakeAdapter
	intents    *fakeIntentStore
	subs       *fakeSubscriptionStore
	events     *fakeEventStore
	notifier   *fakeNotifier
	scheduler  *fakeScheduler
}

func newDispatcherFixture(event *gateway.PaymentEvent, verifyErr error) *dispatcherFixture {
	f := &dispatcherFixture{
		adapter:   &fakeAdapter{provider: gateway.ProviderStripe, event: event, verifyErr: verifyErr},
		intents:   &fakeIntentStore{},
		subs:      &fakeSubscriptionStore{},
		events:    &fakeEventStore{},
		notifier:  &fakeNotifier{},
		scheduler: &fakeScheduler{},
	}
	f.dispatcher = NewDispatcher(&fakeResolver{adapter: f.adapter}, f.intents, f.subs, f.events, f.notifier, f.scheduler)
	return f
}

func TestDispatchPaymentSucceeded(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentSucceeded,
		ProviderEventID:   "evt_1",
		EventType:         "payment_intent.succeeded",
		ProviderReference: "pi_1",
	}, nil)

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected Applied result, got %+v", result)
	}
	if len(f.intents.transitioned) != 1 || f.intents.transitioned[0] != "pi_1:succeeded" {
		t.Fatalf("unexpected transitions: %v", f.intents.transitioned)
	}
	if len(f.scheduler.paid) != 1 {
		t.Fatalf("expected session marked paid once, got %d", len(f.scheduler.paid))
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(f.notifier.sent))
	}
	if len(f.events.processed) != 1 || f.events.processed[0] != nil {
		t.Fatalf("expected MarkProcessed with nil error, got %v", f.events.processed)
	}
}

func TestDispatchPaymentFailedHasNoSideEffects(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentFailed,
		ProviderEventID:   "evt_2",
		ProviderReference: "pi_1",
	}, nil)

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil || !result.Applied {
		t.Fatalf("Dispatch = %+v, %v", result, err)
	}
	if len(f.intents.transitioned) != 1 || f.intents.transitioned[0] != "pi_1:failed" {
		t.Fatalf("unexpected transitions: %v", f.intents.transitioned)
	}
	if len(f.scheduler.paid) != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("failed payment must not fire side effects")
	}
}

func TestDispatchDuplicateDeliveryDoesNothing(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentSucceeded,
		ProviderEventID:   "evt_1",
		ProviderReference: "pi_1",
	}, nil)
	processedAt := time.Now().Add(-time.Minute)
	f.events.duplicate = true
	f.events.stored = &models.WebhookEvent{ID: 5, ProcessedAt: &processedAt}

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected Duplicate result, got %+v", result)
	}
	if len(f.intents.transitioned) != 0 {
		t.Fatalf("duplicate delivery must not transition, got %v", f.intents.transitioned)
	}
	if len(f.notifier.sent) != 0 || len(f.scheduler.paid) != 0 {
		t.Fatalf("duplicate delivery must not fire side effects")
	}
}

func TestDispatchRedeliveryAfterFailedApplyReapplies(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentSucceeded,
		ProviderEventID:   "evt_1",
		ProviderReference: "pi_1",
	}, nil)

	// First delivery: the transition fails transiently and the caller gets
	// the error back.
	f.intents.transitionErr = errors.New("store unavailable")
	if _, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil); err == nil {
		t.Fatalf("expected first delivery to fail")
	}
	if len(f.intents.transitioned) != 0 {
		t.Fatalf("failed apply must not record a transition")
	}

	// Redelivery: the event row exists but its apply never succeeded, so it
	// must be re-applied rather than swallowed as a duplicate.
	f.intents.transitionErr = nil
	f.events.duplicate = true

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if result.Duplicate || !result.Applied {
		t.Fatalf("expected redelivery to apply, got %+v", result)
	}
	if len(f.intents.transitioned) != 1 || f.intents.transitioned[0] != "pi_1:succeeded" {
		t.Fatalf("unexpected transitions: %v", f.intents.transitioned)
	}
}

func TestDispatchRedeliveryAfterCrashReapplies(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentSucceeded,
		ProviderEventID:   "evt_1",
		ProviderReference: "pi_1",
	}, nil)
	// Event row persisted but the process died before MarkProcessed ran.
	f.events.duplicate = true
	f.events.stored = &models.WebhookEvent{ID: 5}

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected unfinished event to be re-applied, got %+v", result)
	}
}

func TestDispatchInvalidSignatureWritesNothing(t *testing.T) {
	f := newDispatcherFixture(nil, gateway.ErrInvalidSignature)

	_, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(f.events.inputs) != 0 {
		t.Fatalf("rejected delivery must not be recorded, got %v", f.events.inputs)
	}
	if len(f.intents.transitioned) != 0 {
		t.Fatalf("rejected delivery must not transition")
	}
}

func TestDispatchUnknownIntent(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentSucceeded,
		ProviderEventID:   "evt_9",
		ProviderReference: "pi_missing",
	}, nil)
	f.intents.transitionErr = ErrUnknownIntent

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
	if result == nil || !result.UnknownReference {
		t.Fatalf("expected UnknownReference result, got %+v", result)
	}
	// The delivery is still recorded, with the failure on the event row.
	if len(f.events.inputs) != 1 {
		t.Fatalf("expected event recorded, got %d", len(f.events.inputs))
	}
	if len(f.events.processed) != 1 || !errors.Is(f.events.processed[0], ErrUnknownIntent) {
		t.Fatalf("expected MarkProcessed with ErrUnknownIntent, got %v", f.events.processed)
	}
}

func TestDispatchAlreadyFinalizedIsConflictNotError(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:          gateway.ProviderStripe,
		Kind:              gateway.KindPaymentFailed,
		ProviderEventID:   "evt_10",
		ProviderReference: "pi_1",
	}, nil)
	f.intents.transitionErr = ErrAlreadyFinalized

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("conflicting event must be acknowledged, got error %v", err)
	}
	if !result.Conflict {
		t.Fatalf("expected Conflict result, got %+v", result)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("conflicting event must not fire side effects")
	}
}

func TestDispatchIgnoredEventKind(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:        gateway.ProviderStripe,
		Kind:            gateway.KindIgnored,
		ProviderEventID: "evt_11",
		EventType:       "charge.refunded",
	}, nil)

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil || !result.Ignored {
		t.Fatalf("Dispatch = %+v, %v, want Ignored", result, err)
	}
	if len(f.events.inputs) != 1 {
		t.Fatalf("ignored event should still be recorded for audit")
	}
}

func TestDispatchSubscriptionRenewal(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:               gateway.ProviderStripe,
		Kind:                   gateway.KindSubscriptionPaymentSucceeded,
		ProviderEventID:        "evt_20",
		ProviderSubscriptionID: "sub_1",
	}, nil)
	f.subs.sub = &models.Subscription{ID: 9, UserID: 7, ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusPastDue}

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil || !result.Applied {
		t.Fatalf("Dispatch = %+v, %v", result, err)
	}
	if len(f.subs.statusMoves) != 1 || f.subs.statusMoves[0] != "sub_1:active" {
		t.Fatalf("unexpected status moves: %v", f.subs.statusMoves)
	}
	if len(f.scheduler.scheduled) != 1 || f.scheduler.scheduled[0] != 7 {
		t.Fatalf("expected next session scheduled for user 7, got %v", f.scheduler.scheduled)
	}
}

func TestDispatchSubscriptionCanceledDowngradesTier(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:               gateway.ProviderStripe,
		Kind:                   gateway.KindSubscriptionCanceled,
		ProviderEventID:        "evt_21",
		ProviderSubscriptionID: "sub_1",
	}, nil)
	f.subs.sub = &models.Subscription{ID: 9, UserID: 7, ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive}

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil || !result.Applied {
		t.Fatalf("Dispatch = %+v, %v", result, err)
	}
	if len(f.subs.statusMoves) != 1 || f.subs.statusMoves[0] != "sub_1:canceled" {
		t.Fatalf("unexpected status moves: %v", f.subs.statusMoves)
	}
	if len(f.subs.tiers) != 1 || f.subs.tiers[0] != models.TierFree {
		t.Fatalf("expected downgrade to free, got %v", f.subs.tiers)
	}
}

func TestDispatchUnknownSubscription(t *testing.T) {
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:               gateway.ProviderStripe,
		Kind:                   gateway.KindSubscriptionPaymentSucceeded,
		ProviderEventID:        "evt_22",
		ProviderSubscriptionID: "sub_missing",
	}, nil)
	f.subs.getErr = ErrUnknownSubscription

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if !errors.Is(err, ErrUnknownSubscription) {
		t.Fatalf("expected ErrUnknownSubscription, got %v", err)
	}
	if result == nil || !result.UnknownReference {
		t.Fatalf("expected UnknownReference result, got %+v", result)
	}
}

func TestDispatchSubscriptionUpdatedCarriesPeriod(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC()
	f := newDispatcherFixture(&gateway.PaymentEvent{
		Provider:               gateway.ProviderStripe,
		Kind:                   gateway.KindSubscriptionUpdated,
		ProviderEventID:        "evt_23",
		ProviderSubscriptionID: "sub_1",
		SubscriptionStatus:     models.SubscriptionStatusActive,
		CancelAtPeriodEnd:      true,
		CurrentPeriodEnd:       &periodEnd,
	}, nil)
	f.subs.sub = &models.Subscription{ID: 9, UserID: 7, ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive, PlanRef: "plan_a"}

	result, err := f.dispatcher.Dispatch(context.Background(), gateway.ProviderStripe, []byte(`{}`), nil)
	if err != nil || !result.Applied {
		t.Fatalf("Dispatch = %+v, %v", result, err)
	}
	if len(f.subs.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(f.subs.upserts))
	}
	up := f.subs.upserts[0]
	if !up.CancelAtPeriodEnd || up.CurrentPeriodEnd == nil || !up.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period flags not carried: %+v", up)
	}
}
