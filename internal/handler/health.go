package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db           Pinger
	rdb          *redis.Client
	cacheEnabled func() bool
	version      string
	startAt      time.Time
}

// NewHealthHandler builds the probes. rdb may be nil and cacheEnabled may be
// nil; either way redis is then reported as disabled.
func NewHealthHandler(db Pinger, rdb *redis.Client, cacheEnabled func() bool, version string) *HealthHandler {
	return &HealthHandler{
		db:           db,
		rdb:          rdb,
		cacheEnabled: cacheEnabled,
		version:      version,
		startAt:      time.Now(),
	}
}

// Live handles GET /health/live, the liveness probe.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready, the readiness probe with dependency checks.
// The database is required; a redis outage only degrades the service.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map)
	overallStatus := "healthy"

	dbCheck := checkDB(ctx, h.db)
	checks["database"] = dbCheck
	if dbCheck["status"] != "up" {
		overallStatus = "unhealthy"
	}

	redisCheck := h.checkRedis(ctx)
	checks["redis"] = redisCheck
	if redisCheck["status"] == "down" && overallStatus == "healthy" {
		overallStatus = "degraded"
	}

	resp := fiber.Map{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
		"version":        h.version,
	}

	status := fiber.StatusOK
	if overallStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

func checkDB(ctx context.Context, db Pinger) fiber.Map {
	start := time.Now()
	err := db.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}

func (h *HealthHandler) checkRedis(ctx context.Context) fiber.Map {
	if h.rdb == nil || (h.cacheEnabled != nil && !h.cacheEnabled()) {
		return fiber.Map{
			"status": "disabled",
		}
	}

	start := time.Now()
	err := h.rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
