package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/attune-health/attune/app/controllers"
	"github.com/attune-health/attune/internal/pkg/env"
)

type AdminRouter struct {
}

// InstallRouter registers the operator endpoints behind HTTP basic auth.
func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := app.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", ""),
		},
	}))
	admin.Put("/gateways/:provider/credentials", controllers.HandlePutGatewayCredentials)
	admin.Get("/metrics/webhooks", controllers.HandleGetWebhookMetrics)
	admin.Delete("/metrics/webhooks", controllers.HandleResetWebhookMetrics)
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}
