package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/attune-health/attune/internal/pkg/database"
	"github.com/attune-health/attune/internal/pkg/gateway"
	"github.com/attune-health/attune/internal/pkg/metrics/counter"
	"github.com/attune-health/attune/internal/pkg/vault"
)

// GatewayCredentialsRequest is the body for PUT /admin/gateways/:provider/credentials.
type GatewayCredentialsRequest struct {
	APIKey        string `json:"api_key" validate:"required"`
	WebhookSecret string `json:"webhook_secret" validate:"required"`
	MerchantID    string `json:"merchant_id"`
}

// HandlePutGatewayCredentials stores (or rotates) the sealed credentials
// for one provider. Secrets are never echoed back.
func HandlePutGatewayCredentials(c *fiber.Ctx) error {
	provider, err := gateway.ParseProvider(c.Params("provider"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	}

	var req GatewayCredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	v, err := vault.New(database.GetDB())
	if err != nil {
		log.Printf("admin credentials %s: vault unavailable: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "vault_unavailable"})
	}
	if err := v.Store(c.Context(), string(provider), vault.Credentials{
		APIKey:        req.APIKey,
		WebhookSecret: req.WebhookSecret,
		MerchantID:    req.MerchantID,
	}); err != nil {
		log.Printf("admin credentials %s: store failed: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_store_failed"})
	}

	log.Printf("gateway credentials rotated for %s", provider)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"provider": string(provider), "stored": true})
}

// HandleGetWebhookMetrics reports per-provider webhook delivery counts.
func HandleGetWebhookMetrics(c *fiber.Ctx) error {
	snapshot, err := counter.WebhookDeliverySnapshot()
	if err != nil {
		log.Printf("admin metrics: snapshot failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "metrics_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"webhook_deliveries": snapshot})
}

// HandleResetWebhookMetrics clears the delivery counters.
func HandleResetWebhookMetrics(c *fiber.Ctx) error {
	if err := counter.ResetWebhookDeliveries(); err != nil {
		log.Printf("admin metrics: reset failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "metrics_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"reset": true})
}
