package gateway

import "time"

// EventKind is the provider-neutral classification of a webhook delivery.
type EventKind string

const (
	KindPaymentSucceeded             EventKind = "payment_succeeded"
	KindPaymentFailed                EventKind = "payment_failed"
	KindSubscriptionPaymentSucceeded EventKind = "subscription_payment_succeeded"
	KindSubscriptionPaymentFailed    EventKind = "subscription_payment_failed"
	KindSubscriptionUpdated          EventKind = "subscription_updated"
	KindSubscriptionCanceled         EventKind = "subscription_canceled"
	// KindIgnored marks event types the system does not act on. They are
	// still recorded for audit.
	KindIgnored EventKind = "ignored"
)

// PaymentEvent is the verified, provider-neutral result of parsing one
// webhook delivery. It only exists after signature verification succeeded.
type PaymentEvent struct {
	Provider        Provider
	Kind            EventKind
	ProviderEventID string
	// EventType keeps the provider-native type string for auditing.
	EventType string

	// ProviderReference is set for payment events.
	ProviderReference string

	// Subscription fields, set for subscription events.
	ProviderSubscriptionID string
	SubscriptionStatus     string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       *time.Time

	// RawPayload is the unmodified request body, kept for auditing.
	RawPayload []byte
}
