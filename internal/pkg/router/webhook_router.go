package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/attune-health/attune/app/controllers"
)

type WebhookRouter struct {
}

// InstallRouter registers the gateway webhook endpoints. No rate limiter
// here: provider retries must not be throttled away.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/:provider", controllers.HandleGatewayWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
