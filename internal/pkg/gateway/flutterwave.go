package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/attune-health/attune/internal/pkg/env"
	"github.com/attune-health/attune/internal/pkg/vault"
)

const (
	defaultFlutterwaveAPIBaseURL = "https://api.flutterwave.com/v3"
	flutterwaveSignatureHeader   = "Flw-Signature"
)

// flutterwaveAdapter is regional-gateway-B. Hosted-checkout flow like
// Paystack, but the webhook digest is HMAC-SHA256 and amounts are billed in
// major units.
type flutterwaveAdapter struct {
	vault      vault.Vault
	apiBaseURL string
	httpClient *http.Client
}

func newFlutterwaveAdapter(v vault.Vault) *flutterwaveAdapter {
	return &flutterwaveAdapter{
		vault:      v,
		apiBaseURL: defaultFlutterwaveAPIBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *flutterwaveAdapter) Provider() Provider {
	return ProviderFlutterwave
}

func (a *flutterwaveAdapter) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	creds, err := a.vault.Get(ctx, string(ProviderFlutterwave))
	if err != nil {
		return nil, err
	}

	txRef := "att_" + uuid.NewString()
	payload := map[string]any{
		"tx_ref":       txRef,
		"amount":       majorUnits(req.AmountMinor),
		"currency":     upperCurrency(req.Currency),
		"redirect_url": env.GetEnv("PAYMENT_RETURN_URL", ""),
		"customer": map[string]any{
			"email": req.Email,
		},
		"meta": map[string]any{
			"user_id":     req.UserID,
			"description": req.Description,
		},
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := a.post(ctx, creds.APIKey, "/payments", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, fmt.Errorf("%w: flutterwave payments: %s", ErrGatewayUnavailable, resp.Message)
	}

	return &CheckoutResult{
		ProviderReference: txRef,
		CheckoutURL:       resp.Data.Link,
	}, nil
}

func (a *flutterwaveAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	creds, err := a.vault.Get(ctx, string(ProviderFlutterwave))
	if err != nil {
		return nil, err
	}

	// Flutterwave creates the subscription when the first plan charge
	// completes, so this opens a plan-bound checkout.
	txRef := "attsub_" + uuid.NewString()
	payload := map[string]any{
		"tx_ref":       txRef,
		"payment_plan": req.PlanRef,
		"redirect_url": env.GetEnv("PAYMENT_RETURN_URL", ""),
		"customer": map[string]any{
			"email": req.Email,
		},
		"meta": map[string]any{
			"user_id": req.UserID,
		},
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := a.post(ctx, creds.APIKey, "/payments", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, fmt.Errorf("%w: flutterwave plan checkout: %s", ErrGatewayUnavailable, resp.Message)
	}

	return &SubscriptionResult{
		ProviderSubscriptionID: txRef,
		CheckoutURL:            resp.Data.Link,
	}, nil
}

func (a *flutterwaveAdapter) VerifyAndParse(ctx context.Context, rawBody []byte, headers map[string]string) (*PaymentEvent, error) {
	creds, err := a.vault.Get(ctx, string(ProviderFlutterwave))
	if err != nil {
		return nil, err
	}

	if !verifyBodyHMAC(rawBody, headers[flutterwaveSignatureHeader], creds.WebhookSecret, sha256.New) {
		return nil, ErrInvalidSignature
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID     int64  `json:"id"`
			TxRef  string `json:"tx_ref"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("flutterwave webhook payload: %w", err)
	}

	eventID := ""
	if payload.Data.ID > 0 {
		eventID = payload.Event + ":" + strconv.FormatInt(payload.Data.ID, 10)
	}

	out := &PaymentEvent{
		Provider:        ProviderFlutterwave,
		Kind:            KindIgnored,
		ProviderEventID: eventID,
		EventType:       payload.Event,
		RawPayload:      rawBody,
	}

	switch payload.Event {
	case "charge.completed":
		out.ProviderReference = payload.Data.TxRef
		if payload.Data.Status == "successful" {
			out.Kind = KindPaymentSucceeded
		} else {
			out.Kind = KindPaymentFailed
		}
	case "subscription.cancelled":
		out.Kind = KindSubscriptionCanceled
		out.ProviderSubscriptionID = payload.Data.TxRef
	}

	return out, nil
}

func (a *flutterwaveAdapter) post(ctx context.Context, apiKey, path string, payload any, out any) error {
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
		return fmt.Errorf("%w: flutterwave request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: flutterwave status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
