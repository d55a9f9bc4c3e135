package gateway

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature means the webhook body does not match its
	// signature header under the configured secret. Fail closed.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrGatewayUnavailable means the provider API could not be reached or
	// rejected the call transiently. No local state is mutated.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrUnsupportedGateway means the caller named a provider with no
	// registered adapter.
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// CheckoutRequest is the provider-neutral input for opening a payment flow.
type CheckoutRequest struct {
	UserID      uint
	Email       string
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// CheckoutResult carries whichever client payload the provider hands out:
// an embedded-flow client secret or a hosted-checkout redirect URL. Exactly
// one of the two is set; callers must handle both shapes.
type CheckoutResult struct {
	ProviderReference string
	ClientSecret      string
	CheckoutURL       string
}

// SubscriptionRequest is the provider-neutral input for starting a
// recurring-billing agreement.
type SubscriptionRequest struct {
	UserID  uint
	Email   string
	PlanRef string
}

// SubscriptionResult mirrors CheckoutResult's asymmetry: embedded-flow
// providers return a client secret for first-payment confirmation, hosted
// ones a checkout URL.
type SubscriptionResult struct {
	ProviderSubscriptionID string
	ClientSecret           string
	CheckoutURL            string
}

// Adapter translates provider-neutral payment operations into one
// provider's API calls and verifies that provider's webhooks. Every variant
// must verify the raw body before any JSON parsing.
type Adapter interface {
	Provider() Provider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error)
	VerifyAndParse(ctx context.Context, rawBody []byte, headers map[string]string) (*PaymentEvent, error)
}
