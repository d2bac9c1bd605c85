package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

const (
	defaultAvailableSample = 10
	maxAvailableSample     = 100
)

// Ports is the port allocator used by PortHandler
type Ports interface {
	Range() models.PortRange
	List() []models.PortAllocation
	ListAvailable(count int) []int
}

// PortHandler serves the port inventory
type PortHandler struct {
	ports Ports
}

// NewPortHandler creates a new port handler
func NewPortHandler(ports Ports) *PortHandler {
	return &PortHandler{ports: ports}
}

// RegisterRoutes registers port routes
func (h *PortHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ports", h.Inventory)
}

// Inventory handles GET /api/v1/ports?available=N
func (h *PortHandler) Inventory(c *fiber.Ctx) error {
	count := c.QueryInt("available", defaultAvailableSample)
	if count < 0 {
		return badRequest(c, "available must be a positive number")
	}
	if count > maxAvailableSample {
		count = maxAvailableSample
	}

	allocated := h.ports.List()
	if allocated == nil {
		allocated = []models.PortAllocation{}
	}
	available := h.ports.ListAvailable(count)
	if available == nil {
		available = []int{}
	}
	return c.JSON(fiber.Map{
		"range":     h.ports.Range(),
		"allocated": allocated,
		"available": available,
	})
}
