package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/Grant-Huang/inkpath/internal/metrics"
)

// MetricsMiddleware records request duration and in-flight count for Prometheus.
func MetricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Don't instrument the /metrics endpoint itself
		if c.Path() == "/metrics" {
			return c.Next()
		}

		// Copy path and method into owned strings BEFORE c.Next(). Fiber
		// returns slices backed by the fasthttp buffer which can be reused
		// or overwritten by handlers (especially fasthttpadaptor).
		path := string([]byte(c.Path()))
		method := string([]byte(c.Method()))
		endpoint := sanitizeEndpoint(path)

		metrics.RequestsInFlight.Inc()
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())

		metrics.RequestDuration.WithLabelValues(endpoint, method, status).Observe(duration)
		metrics.RequestsInFlight.Dec()

		return err
	}
}

// sanitizeEndpoint keeps label cardinality bounded: only the known ops
// routes are reported by name.
func sanitizeEndpoint(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics":
		return path
	default:
		return "other"
	}
}

// MetricsHandler serves the Prometheus /metrics endpoint via Fiber from the
// given gatherer.
func MetricsHandler(g prometheus.Gatherer) fiber.Handler {
	httpHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return func(c fiber.Ctx) error {
		httpHandler(c.RequestCtx())
		return nil
	}
}
