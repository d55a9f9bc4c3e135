package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/attune-health/attune/internal/pkg/vault"
)

const (
	defaultPaystackAPIBaseURL = "https://api.paystack.co"
	paystackSignatureHeader   = "X-Paystack-Signature"
)

// paystackAdapter is regional-gateway-A. Checkout is a hosted flow: the
// caller gets a redirect URL. Webhooks carry an HMAC-SHA512 digest of the
// raw body in X-Paystack-Signature.
type paystackAdapter struct {
	vault      vault.Vault
	apiBaseURL string
	httpClient *http.Client
}

func newPaystackAdapter(v vault.Vault) *paystackAdapter {
	return &paystackAdapter{
		vault:      v,
		apiBaseURL: defaultPaystackAPIBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *paystackAdapter) Provider() Provider {
	return ProviderPaystack
}

func (a *paystackAdapter) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	creds, err := a.vault.Get(ctx, string(ProviderPaystack))
	if err != nil {
		return nil, err
	}

	reference := "att_" + uuid.NewString()
	payload := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  upperCurrency(req.Currency),
		"reference": reference,
		"metadata": map[string]any{
			"user_id":     req.UserID,
			"description": req.Description,
		},
	}

	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := a.post(ctx, creds.APIKey, "/transaction/initialize", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: paystack initialize: %s", ErrGatewayUnavailable, resp.Message)
	}

	return &CheckoutResult{
		ProviderReference: resp.Data.Reference,
		CheckoutURL:       resp.Data.AuthorizationURL,
	}, nil
}

func (a *paystackAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	creds, err := a.vault.Get(ctx, string(ProviderPaystack))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"customer": req.Email,
		"plan":     req.PlanRef,
	}

	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			SubscriptionCode string `json:"subscription_code"`
		} `json:"data"`
	}
	if err := a.post(ctx, creds.APIKey, "/subscription", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.SubscriptionCode == "" {
		return nil, fmt.Errorf("%w: paystack subscription: %s", ErrGatewayUnavailable, resp.Message)
	}

	return &SubscriptionResult{ProviderSubscriptionID: resp.Data.SubscriptionCode}, nil
}

func (a *paystackAdapter) VerifyAndParse(ctx context.Context, rawBody []byte, headers map[string]string) (*PaymentEvent, error) {
	creds, err := a.vault.Get(ctx, string(ProviderPaystack))
	if err != nil {
		return nil, err
	}

	if !verifyBodyHMAC(rawBody, headers[paystackSignatureHeader], creds.WebhookSecret, sha512.New) {
		return nil, ErrInvalidSignature
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID        int64  `json:"id"`
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Subscription struct {
				SubscriptionCode string `json:"subscription_code"`
			} `json:"subscription"`
			SubscriptionCode string `json:"subscription_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("paystack webhook payload: %w", err)
	}

	eventID := ""
	if payload.Data.ID > 0 {
		eventID = payload.Event + ":" + strconv.FormatInt(payload.Data.ID, 10)
	}
	subscriptionCode := payload.Data.SubscriptionCode
	if subscriptionCode == "" {
		subscriptionCode = payload.Data.Subscription.SubscriptionCode
	}

	out := &PaymentEvent{
		Provider:        ProviderPaystack,
		Kind:            KindIgnored,
		ProviderEventID: eventID,
		EventType:       payload.Event,
		RawPayload:      rawBody,
	}

	switch payload.Event {
	case "charge.success":
		out.Kind = KindPaymentSucceeded
		out.ProviderReference = payload.Data.Reference
	case "charge.failed":
		out.Kind = KindPaymentFailed
		out.ProviderReference = payload.Data.Reference
	case "invoice.payment_failed":
		out.Kind = KindSubscriptionPaymentFailed
		out.ProviderSubscriptionID = subscriptionCode
	case "subscription.create":
		out.Kind = KindSubscriptionUpdated
		out.ProviderSubscriptionID = subscriptionCode
		out.SubscriptionStatus = "active"
	case "subscription.not_renew":
		// Cancel-at-period-end: still active until the period elapses.
		out.Kind = KindSubscriptionUpdated
		out.ProviderSubscriptionID = subscriptionCode
		out.SubscriptionStatus = "active"
		out.CancelAtPeriodEnd = true
	case "subscription.disable":
		out.Kind = KindSubscriptionCanceled
		out.ProviderSubscriptionID = subscriptionCode
	}

	return out, nil
}

func (a *paystackAdapter) post(ctx context.Context, apiKey, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paystack request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: paystack status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
