package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/attune-health/attune/internal/pkg/vault"
)

func newTestFlutterwaveAdapter() *flutterwaveAdapter {
	return newFlutterwaveAdapter(staticVault{
		creds: vault.Credentials{APIKey: "FLWSECK_TEST", WebhookSecret: "flw-secret"},
	})
}

func TestFlutterwaveVerifyAndParse_ChargeCompleted(t *testing.T) {
	a := newTestFlutterwaveAdapter()
	tests := []struct {
		payload  string
		wantKind EventKind
		wantRef  string
	}{
		{
			payload:  `{"event":"charge.completed","data":{"id":285959875,"tx_ref":"att_tx_1","status":"successful"}}`,
			wantKind: KindPaymentSucceeded,
			wantRef:  "att_tx_1",
		},
		{
			payload:  `{"event":"charge.completed","data":{"id":285959876,"tx_ref":"att_tx_2","status":"failed"}}`,
			wantKind: KindPaymentFailed,
			wantRef:  "att_tx_2",
		},
	}

	for _, tt := range tests {
		raw := []byte(tt.payload)
		headers := map[string]string{"Flw-Signature": signHex(raw, "flw-secret", false)}
		event, err := a.VerifyAndParse(context.Background(), raw, headers)
		if err != nil {
			t.Fatalf("VerifyAndParse returned error: %v", err)
		}
		if event.Kind != tt.wantKind {
			t.Fatalf("event kind = %q, want %q", event.Kind, tt.wantKind)
		}
		if event.ProviderReference != tt.wantRef {
			t.Fatalf("provider reference = %q, want %q", event.ProviderReference, tt.wantRef)
		}
	}
}

func TestFlutterwaveVerifyAndParse_SubscriptionCancelled(t *testing.T) {
	a := newTestFlutterwaveAdapter()
	raw := []byte(`{"event":"subscription.cancelled","data":{"id":42,"tx_ref":"attsub_tx_1"}}`)
	headers := map[string]string{"Flw-Signature": signHex(raw, "flw-secret", false)}

	event, err := a.VerifyAndParse(context.Background(), raw, headers)
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}
	if event.Kind != KindSubscriptionCanceled {
		t.Fatalf("event kind = %q, want %q", event.Kind, KindSubscriptionCanceled)
	}
	if event.ProviderSubscriptionID != "attsub_tx_1" {
		t.Fatalf("subscription id = %q", event.ProviderSubscriptionID)
	}
}

func TestFlutterwaveVerifyAndParse_InvalidSignature(t *testing.T) {
	a := newTestFlutterwaveAdapter()
	raw := []byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"att_tx_1","status":"successful"}}`)

	_, err := a.VerifyAndParse(context.Background(), raw, map[string]string{"Flw-Signature": signHex(raw, "wrong-secret", false)})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	_, err = a.VerifyAndParse(context.Background(), raw, map[string]string{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
}

func TestFlutterwaveVerifyAndParse_UnknownEventIgnored(t *testing.T) {
	a := newTestFlutterwaveAdapter()
	raw := []byte(`{"event":"transfer.completed","data":{"id":7}}`)
	headers := map[string]string{"Flw-Signature": signHex(raw, "flw-secret", false)}

	event, err := a.VerifyAndParse(context.Background(), raw, headers)
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}
	if event.Kind != KindIgnored {
		t.Fatalf("event kind = %q, want %q", event.Kind, KindIgnored)
	}
}
