package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether the container engine answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check
type HealthHandler struct {
	engine  Pinger
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(engine Pinger, version string) *HealthHandler {
	return &HealthHandler{engine: engine, version: version}
}

// RegisterRoutes registers the health route
func (h *HealthHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.Health)
}

// Health handles GET /api/v1/health. The server is healthy even when the engine is not;
// engine reachability is reported separately.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	engine := "ok"
	if h.engine != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.engine.Ping(ctx); err != nil {
			engine = "unavailable"
		}
	}
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "homelab-launchpad",
		"version": h.version,
		"engine":  engine,
	})
}
