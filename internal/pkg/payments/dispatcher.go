package payments

import (
	"context"
	"errors"
	"log"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/gateway"
)

// AdapterResolver yields the gateway adapter for a provider. Satisfied by
// gateway.Registry.
type AdapterResolver interface {
	Adapter(p gateway.Provider) (gateway.Adapter, error)
}

// NotificationContext carries what a payment confirmation needs to say.
type NotificationContext struct {
	Provider    gateway.Provider
	AmountMinor int64
	Currency    string
	Purpose     string
}

// Notifier sends user-facing payment notifications. Fire-and-forget: a
// failed notification never affects the financial state transition.
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, userID uint, nc NotificationContext) error
}

// SessionScheduler applies therapy-session side effects after a payment
// commits.
type SessionScheduler interface {
	MarkSessionPaid(ctx context.Context, intent *models.PaymentIntent) error
	ScheduleNextSession(ctx context.Context, userID uint) error
}

// DispatchResult reports what a webhook delivery did.
type DispatchResult struct {
	Applied          bool
	Duplicate        bool
	Ignored          bool
	UnknownReference bool
	Conflict         bool
}

// Dispatcher drives a webhook delivery through verification, deduplication
// and the state transition, then fires side effects. Any verification
// failure aborts before the first store mutation.
type Dispatcher struct {
	registry  AdapterResolver
	intents   IntentStore
	subs      SubscriptionStore
	events    EventStore
	notifier  Notifier
	scheduler SessionScheduler
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(registry AdapterResolver, intents IntentStore, subs SubscriptionStore, events EventStore, notifier Notifier, scheduler SessionScheduler) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		intents:   intents,
		subs:      subs,
		events:    events,
		notifier:  notifier,
		scheduler: scheduler,
	}
}

// Dispatch processes one raw webhook delivery for a provider.
func (d *Dispatcher) Dispatch(ctx context.Context, provider gateway.Provider, rawBody []byte, headers map[string]string) (*DispatchResult, error) {
	adapter, err := d.registry.Adapter(provider)
	if err != nil {
		return nil, err
	}

	event, err := adapter.VerifyAndParse(ctx, rawBody, headers)
	if err != nil {
		return nil, err
	}

	created, stored, err := d.events.CreateIfNotExists(ctx, WebhookEventInput{
		Provider:        string(provider),
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// A redelivery is only a duplicate once the first attempt finished
		// cleanly. An event whose apply failed (or never ran) must be
		// re-applied, otherwise a transient store error would strand the
		// intent in pending forever.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return &DispatchResult{Duplicate: true}, nil
		}
		log.Printf("webhook %s/%s: redelivery of unfinished event, re-applying", provider, event.ProviderEventID)
	}

	result, applyErr := d.apply(ctx, provider, event)
	if markErr := d.events.MarkProcessed(ctx, stored.ID, applyErr); markErr != nil {
		log.Printf("webhook %s/%s: failed to mark processed: %v", provider, event.ProviderEventID, markErr)
	}
	return result, applyErr
}

func (d *Dispatcher) apply(ctx context.Context, provider gateway.Provider, event *gateway.PaymentEvent) (*DispatchResult, error) {
	switch event.Kind {
	case gateway.KindPaymentSucceeded, gateway.KindPaymentFailed:
		return d.applyIntentEvent(ctx, provider, event)
	case gateway.KindSubscriptionPaymentSucceeded,
		gateway.KindSubscriptionPaymentFailed,
		gateway.KindSubscriptionUpdated,
		gateway.KindSubscriptionCanceled:
		return d.applySubscriptionEvent(ctx, provider, event)
	default:
		return &DispatchResult{Ignored: true}, nil
	}
}

func (d *Dispatcher) applyIntentEvent(ctx context.Context, provider gateway.Provider, event *gateway.PaymentEvent) (*DispatchResult, error) {
	newStatus := models.PaymentStatusSucceeded
	if event.Kind == gateway.KindPaymentFailed {
		newStatus = models.PaymentStatusFailed
	}

	intent, err := d.intents.Transition(ctx, provider, event.ProviderReference, newStatus)
	switch {
	case errors.Is(err, ErrUnknownIntent):
		log.Printf("webhook %s/%s: payment event for unknown reference %q", provider, event.EventType, event.ProviderReference)
		return &DispatchResult{UnknownReference: true}, err
	case errors.Is(err, ErrAlreadyFinalized):
		log.Printf("webhook %s/%s: reference %q already finalized, event dropped", provider, event.EventType, event.ProviderReference)
		return &DispatchResult{Conflict: true}, nil
	case err != nil:
		return nil, err
	}

	if event.Kind == gateway.KindPaymentSucceeded {
		d.fireIntentSideEffects(ctx, intent)
	}
	return &DispatchResult{Applied: true}, nil
}

func (d *Dispatcher) applySubscriptionEvent(ctx context.Context, provider gateway.Provider, event *gateway.PaymentEvent) (*DispatchResult, error) {
	sub, err := d.subs.GetByProviderID(ctx, provider, event.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrUnknownSubscription) {
			log.Printf("webhook %s/%s: event for unknown subscription %q", provider, event.EventType, event.ProviderSubscriptionID)
			return &DispatchResult{UnknownReference: true}, err
		}
		return nil, err
	}

	newStatus := ""
	switch event.Kind {
	case gateway.KindSubscriptionPaymentSucceeded:
		newStatus = models.SubscriptionStatusActive
	case gateway.KindSubscriptionPaymentFailed:
		newStatus = models.SubscriptionStatusPastDue
	case gateway.KindSubscriptionUpdated:
		newStatus = event.SubscriptionStatus
	case gateway.KindSubscriptionCanceled:
		newStatus = models.SubscriptionStatusCanceled
	}
	if newStatus == "" {
		return &DispatchResult{Ignored: true}, nil
	}

	if event.Kind == gateway.KindSubscriptionUpdated {
		// Carry the period/cancel flags alongside the status move.
		_, err = d.subs.Upsert(ctx, UpsertSubscriptionInput{
			UserID:                 sub.UserID,
			Provider:               provider,
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			Status:                 newStatus,
			PlanRef:                sub.PlanRef,
			CancelAtPeriodEnd:      event.CancelAtPeriodEnd,
			CurrentPeriodEnd:       event.CurrentPeriodEnd,
		})
	} else {
		_, err = d.subs.SetStatus(ctx, provider, event.ProviderSubscriptionID, newStatus)
	}
	if errors.Is(err, ErrAlreadyFinalized) {
		log.Printf("webhook %s/%s: subscription %q already finalized, event dropped", provider, event.EventType, event.ProviderSubscriptionID)
		return &DispatchResult{Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	switch event.Kind {
	case gateway.KindSubscriptionPaymentSucceeded:
		d.fireSubscriptionSideEffects(ctx, sub)
	case gateway.KindSubscriptionCanceled:
		// The paid tier lapses with the agreement that backed it.
		if _, err := d.subs.RecordTier(ctx, sub.UserID, models.TierFree, nil, nil); err != nil {
			log.Printf("webhook %s: failed to downgrade user %d after cancellation: %v", provider, sub.UserID, err)
		}
	}
	return &DispatchResult{Applied: true}, nil
}

// fireIntentSideEffects runs after the intent transition committed. Side
// effect failures are retryable operational issues, never payment
// correctness issues, so they are logged and swallowed.
func (d *Dispatcher) fireIntentSideEffects(ctx context.Context, intent *models.PaymentIntent) {
	if err := d.scheduler.MarkSessionPaid(ctx, intent); err != nil {
		log.Printf("payment %s: failed to mark session paid: %v", intent.PublicID, err)
	}
	if err := d.notifier.SendPaymentConfirmation(ctx, intent.UserID, NotificationContext{
		Provider:    gateway.Provider(intent.Provider),
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Purpose:     "payment",
	}); err != nil {
		log.Printf("payment %s: failed to send confirmation: %v", intent.PublicID, err)
	}
}

func (d *Dispatcher) fireSubscriptionSideEffects(ctx context.Context, sub *models.Subscription) {
	if err := d.scheduler.ScheduleNextSession(ctx, sub.UserID); err != nil {
		log.Printf("subscription %s: failed to schedule next session: %v", sub.ProviderSubscriptionID, err)
	}
	if err := d.notifier.SendPaymentConfirmation(ctx, sub.UserID, NotificationContext{
		Provider: gateway.Provider(sub.Provider),
		Purpose:  "subscription_renewal",
	}); err != nil {
		log.Printf("subscription %s: failed to send confirmation: %v", sub.ProviderSubscriptionID, err)
	}
}
