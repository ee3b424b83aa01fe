package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Grant-Huang/inkpath/internal/handler"
	"github.com/Grant-Huang/inkpath/internal/middleware"
)

// Setup configures the middleware stack and the operational routes. The
// core exposes no domain routes; those belong to the calling layer.
func Setup(app *fiber.App, health *handler.HealthHandler, gatherer prometheus.Gatherer) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(handler.MetricsMiddleware())

	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	app.Get("/metrics", handler.MetricsHandler(gatherer))
}
