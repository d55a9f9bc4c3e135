package controllers

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/attune-health/attune/internal/pkg/gateway"
	"github.com/attune-health/attune/internal/pkg/middleware"
	"github.com/attune-health/attune/internal/pkg/payments"
	"github.com/attune-health/attune/internal/pkg/vault"
)

var validate = validator.New()

// CreatePaymentRequest is the body for POST /api/v1/payments.
type CreatePaymentRequest struct {
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Provider    string `json:"provider" validate:"required"`
	Description string `json:"description" validate:"max=255"`
	SessionID   string `json:"session_id" validate:"omitempty,uuid4"`
}

// SetTierRequest is the body for POST /api/v1/subscription/tier.
type SetTierRequest struct {
	Tier     string `json:"tier" validate:"required,oneof=free trial premium"`
	Provider string `json:"provider" validate:"omitempty"`
	PlanRef  string `json:"plan_ref" validate:"omitempty,max=255"`
}

// HandleCreatePayment opens a payment flow for the authenticated user.
func HandleCreatePayment(c *fiber.Ctx) error {
	userID, ok := middleware.AuthedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	result, err := newSubscriptionManager().InitializePayment(c.Context(), payments.InitializePaymentInput{
		UserID:      userID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Provider:    req.Provider,
		Description: req.Description,
		SessionID:   req.SessionID,
	})
	if err != nil {
		return paymentErrorResponse(c, userID, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleSetTier applies a subscription tier change for the authenticated
// user.
func HandleSetTier(c *fiber.Ctx) error {
	userID, ok := middleware.AuthedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req SetTierRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	result, err := newSubscriptionManager().SetTier(c.Context(), payments.SetTierInput{
		UserID:   userID,
		Tier:     req.Tier,
		Provider: req.Provider,
		PlanRef:  req.PlanRef,
	})
	if errors.Is(err, payments.ErrPlanRequired) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_required", "message": "Premium tier needs a plan reference"})
	}
	if err != nil {
		return paymentErrorResponse(c, userID, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleGetSubscription returns the authenticated user's subscription view.
func HandleGetSubscription(c *fiber.Ctx) error {
	userID, ok := middleware.AuthedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	status, err := newSubscriptionManager().GetStatus(c.Context(), userID)
	if err != nil {
		log.Printf("subscription status for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

// paymentErrorResponse maps manager errors to responses. Provider errors
// stay generic toward the client; the detail goes to the log only.
func paymentErrorResponse(c *fiber.Ctx, userID uint, err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported_gateway"})
	case errors.Is(err, vault.ErrCredentialsNotConfigured):
		log.Printf("payment for user %d: gateway credentials not configured", userID)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment could not be processed"})
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		log.Printf("payment for user %d: gateway unavailable: %v", userID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment could not be processed"})
	default:
		log.Printf("payment for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_failed", "message": "Payment could not be processed"})
	}
}
