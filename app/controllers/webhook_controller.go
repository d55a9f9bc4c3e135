package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/attune-health/attune/internal/pkg/gateway"
	"github.com/attune-health/attune/internal/pkg/metrics/counter"
	"github.com/attune-health/attune/internal/pkg/payments"
	"github.com/attune-health/attune/internal/pkg/vault"
)

const webhookTimeout = 15 * time.Second

// HandleGatewayWebhook receives one provider's webhook delivery. The body
// is captured raw before anything touches it; signature verification needs
// the exact wire bytes.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	provider, err := gateway.ParseProvider(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := map[string]string{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[http.CanonicalHeaderKey(string(key))] = string(value)
	})

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	result, err := newWebhookDispatcher().Dispatch(ctx, provider, rawBody, headers)
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		log.Printf("webhook %s: rejected invalid signature", provider)
		countDelivery(provider, counter.OutcomeRejected)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, vault.ErrCredentialsNotConfigured):
		log.Printf("webhook %s: credentials not configured", provider)
		countDelivery(provider, counter.OutcomeFailed)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_not_configured"})
	case errors.Is(err, payments.ErrUnknownIntent), errors.Is(err, payments.ErrUnknownSubscription):
		// Logged by the dispatcher; acknowledged so the provider stops
		// retrying a reference we never created.
		countDelivery(provider, counter.OutcomeIgnored)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	case err != nil:
		log.Printf("webhook %s: processing failed: %v", provider, err)
		countDelivery(provider, counter.OutcomeFailed)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	if result.Duplicate {
		countDelivery(provider, counter.OutcomeDuplicate)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}
	if result.Ignored {
		countDelivery(provider, counter.OutcomeIgnored)
	} else {
		countDelivery(provider, counter.OutcomeApplied)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

func countDelivery(provider gateway.Provider, outcome string) {
	if err := counter.AddWebhookDelivery(string(provider), outcome); err != nil {
		log.Printf("webhook %s: delivery counter update failed: %v", provider, err)
	}
}
