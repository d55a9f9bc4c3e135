package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v79"
	stripeclient "github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/attune-health/attune/internal/pkg/vault"
)

const stripeSignatureHeader = "Stripe-Signature"

// stripeAdapter is the card-gateway variant. Checkout uses the embedded
// flow: the caller receives a PaymentIntent client secret. Webhooks are
// authenticated by the SDK's signed-timestamp scheme.
type stripeAdapter struct {
	vault vault.Vault
}

func newStripeAdapter(v vault.Vault) *stripeAdapter {
	return &stripeAdapter{vault: v}
}

func (a *stripeAdapter) Provider() Provider {
	return ProviderStripe
}

func (a *stripeAdapter) api(ctx context.Context) (*stripeclient.API, vault.Credentials, error) {
	creds, err := a.vault.Get(ctx, string(ProviderStripe))
	if err != nil {
		return nil, vault.Credentials{}, err
	}
	sc := &stripeclient.API{}
	sc.Init(creds.APIKey, nil)
	return sc, creds, nil
}

func (a *stripeAdapter) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	sc, _, err := a.api(ctx)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(lowerCurrency(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := sc.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe payment intent: %v", ErrGatewayUnavailable, err)
	}

	return &CheckoutResult{
		ProviderReference: pi.ID,
		ClientSecret:      pi.ClientSecret,
	}, nil
}

func (a *stripeAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	sc, _, err := a.api(ctx)
	if err != nil {
		return nil, err
	}

	custParams := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
	}
	custParams.Context = ctx
	custParams.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	cust, err := sc.Customers.New(custParams)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe customer: %v", ErrGatewayUnavailable, err)
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PlanRef)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	subParams.Context = ctx
	subParams.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	subParams.AddExpand("latest_invoice.payment_intent")

	sub, err := sc.Subscriptions.New(subParams)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe subscription: %v", ErrGatewayUnavailable, err)
	}

	result := &SubscriptionResult{ProviderSubscriptionID: sub.ID}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		result.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return result, nil
}

func (a *stripeAdapter) VerifyAndParse(ctx context.Context, rawBody []byte, headers map[string]string) (*PaymentEvent, error) {
	creds, err := a.vault.Get(ctx, string(ProviderStripe))
	if err != nil {
		return nil, err
	}

	// Endpoint API version drift is not a forgery; only signature and
	// timestamp failures may map to ErrInvalidSignature.
	event, err := webhook.ConstructEventWithOptions(rawBody, headers[stripeSignatureHeader], creds.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &PaymentEvent{
		Provider:        ProviderStripe,
		Kind:            KindIgnored,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		RawPayload:      rawBody,
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe payment_intent payload: %w", err)
		}
		out.ProviderReference = pi.ID
		if string(event.Type) == "payment_intent.succeeded" {
			out.Kind = KindPaymentSucceeded
		} else {
			out.Kind = KindPaymentFailed
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe invoice payload: %w", err)
		}
		if inv.Subscription == nil {
			// One-off invoice, nothing for the subscription machine.
			return out, nil
		}
		out.ProviderSubscriptionID = inv.Subscription.ID
		if string(event.Type) == "invoice.payment_succeeded" {
			out.Kind = KindSubscriptionPaymentSucceeded
		} else {
			out.Kind = KindSubscriptionPaymentFailed
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe subscription payload: %w", err)
		}
		out.ProviderSubscriptionID = sub.ID
		out.SubscriptionStatus = mapStripeSubscriptionStatus(sub.Status)
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &t
		}
		if string(event.Type) == "customer.subscription.deleted" {
			out.Kind = KindSubscriptionCanceled
		} else {
			out.Kind = KindSubscriptionUpdated
		}
	}

	return out, nil
}

func mapStripeSubscriptionStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return "active"
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return "past_due"
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return "canceled"
	default:
		return "incomplete"
	}
}
