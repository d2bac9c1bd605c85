package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
)

// Applications is the application service used by ApplicationHandler
type Applications interface {
	Create(req services.CreateApplicationRequest) (*models.Application, error)
	Get(id string) (*models.Application, error)
	List() []*models.Application
	Update(id string, req services.UpdateApplicationRequest) (*models.Application, error)
	Delete(ctx context.Context, id string) error
	GitConfig(id string) (*models.GitConfigView, error)
	ListGitConfigs() ([]services.AppGitConfig, error)
	ValidateGit(cfg *models.GitConfig) services.GitValidation
	ListTemplates() []services.AppTemplate
}

// ApplicationHandler handles application-related HTTP requests
type ApplicationHandler struct {
	service Applications
}

// NewApplicationHandler creates a new application handler
func NewApplicationHandler(service Applications) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// RegisterRoutes registers application routes
func (h *ApplicationHandler) RegisterRoutes(router fiber.Router) {
	apps := router.Group("/apps")
	apps.Get("", h.ListApplications)
	apps.Post("", h.CreateApplication)
	apps.Get("/:id", h.GetApplication)
	apps.Patch("/:id", h.UpdateApplication)
	apps.Delete("/:id", h.DeleteApplication)
	apps.Get("/:id/git", h.GetGitConfig)

	router.Get("/templates", h.ListTemplates)
	router.Get("/git-configs", h.ListGitConfigs)
	router.Post("/git-configs/validate", h.ValidateGitConfig)
}

// ListApplications handles GET /api/v1/apps
func (h *ApplicationHandler) ListApplications(c *fiber.Ctx) error {
	return c.JSON(h.service.List())
}

// CreateApplication handles POST /api/v1/apps
func (h *ApplicationHandler) CreateApplication(c *fiber.Ctx) error {
	var req services.CreateApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := ValidateRequest(&req); err != nil {
		return HandleError(c, err, "")
	}

	app, err := h.service.Create(req)
	if err != nil {
		return HandleError(c, err, "Failed to create application")
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

// GetApplication handles GET /api/v1/apps/:id
func (h *ApplicationHandler) GetApplication(c *fiber.Ctx) error {
	app, err := h.service.Get(c.Params("id"))
	if err != nil {
		return HandleError(c, err, "Failed to get application")
	}
	return c.JSON(app)
}

// UpdateApplication handles PATCH /api/v1/apps/:id
func (h *ApplicationHandler) UpdateApplication(c *fiber.Ctx) error {
	var req services.UpdateApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := ValidateRequest(&req); err != nil {
		return HandleError(c, err, "")
	}

	app, err := h.service.Update(c.Params("id"), req)
	if err != nil {
		return HandleError(c, err, "Failed to update application")
	}
	return c.JSON(app)
}

// DeleteApplication handles DELETE /api/v1/apps/:id
func (h *ApplicationHandler) DeleteApplication(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return HandleError(c, err, "Failed to delete application")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetGitConfig handles GET /api/v1/apps/:id/git
func (h *ApplicationHandler) GetGitConfig(c *fiber.Ctx) error {
	view, err := h.service.GitConfig(c.Params("id"))
	if err != nil {
		return HandleError(c, err, "Failed to load git configuration")
	}
	if view == nil {
		return HandleError(c, models.NewNotFoundError("Git configuration"), "")
	}
	return c.JSON(view)
}

// ListGitConfigs handles GET /api/v1/git-configs
func (h *ApplicationHandler) ListGitConfigs(c *fiber.Ctx) error {
	list, err := h.service.ListGitConfigs()
	if err != nil {
		return HandleError(c, err, "Failed to load git configurations")
	}
	return c.JSON(list)
}

// ValidateGitConfig handles POST /api/v1/git-configs/validate
func (h *ApplicationHandler) ValidateGitConfig(c *fiber.Ctx) error {
	var cfg models.GitConfig
	if err := c.BodyParser(&cfg); err != nil {
		return badRequest(c, "Invalid request body")
	}
	return c.JSON(h.service.ValidateGit(&cfg))
}

// ListTemplates handles GET /api/v1/templates
func (h *ApplicationHandler) ListTemplates(c *fiber.Ctx) error {
	return c.JSON(h.service.ListTemplates())
}
