package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
	ws "github.com/jared-cannon/homelab-launchpad/internal/websocket"
)

// Deployments is the deployment engine used by DeploymentHandler
type Deployments interface {
	Deploy(appID string, force bool) (*models.Deployment, error)
	GetDeployment(id string) (*models.Deployment, error)
	ListDeployments(appID string) ([]models.Deployment, error)
	Start(ctx context.Context, appID string) (*models.Application, error)
	Stop(ctx context.Context, appID string) (*models.Application, error)
	Restart(ctx context.Context, appID string) (*models.Application, error)
}

// Subscriber hands out in-process subscriptions to hub channels
type Subscriber interface {
	Subscribe(channel string, buffer int) *ws.Subscription
}

// DeployRequest is the optional body of a deploy request
type DeployRequest struct {
	Force bool `json:"force"`
}

// DeploymentHandler handles deployment and lifecycle HTTP requests
type DeploymentHandler struct {
	engine    Deployments
	events    Subscriber
	heartbeat time.Duration
}

// NewDeploymentHandler creates a new deployment handler. events may be nil, which
// disables the deployment event stream.
func NewDeploymentHandler(engine Deployments, events Subscriber, heartbeat time.Duration) *DeploymentHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &DeploymentHandler{engine: engine, events: events, heartbeat: heartbeat}
}

// RegisterRoutes registers deployment routes
func (h *DeploymentHandler) RegisterRoutes(router fiber.Router) {
	apps := router.Group("/apps")
	apps.Post("/:id/deploy", h.Deploy)
	apps.Get("/:id/deployments", h.ListDeployments)
	apps.Post("/:id/start", h.Start)
	apps.Post("/:id/stop", h.Stop)
	apps.Post("/:id/restart", h.Restart)

	deployments := router.Group("/deployments")
	deployments.Get("/:id", h.GetDeployment)
	if h.events != nil {
		deployments.Get("/:id/events", h.StreamEvents)
	}
}

// Deploy handles POST /api/v1/apps/:id/deploy. The pipeline runs in the background;
// the response is the pending deployment.
func (h *DeploymentHandler) Deploy(c *fiber.Ctx) error {
	var req DeployRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	if c.QueryBool("force") {
		req.Force = true
	}

	d, err := h.engine.Deploy(c.Params("id"), req.Force)
	if err != nil {
		return HandleError(c, err, "Failed to start deployment")
	}
	return c.Status(fiber.StatusAccepted).JSON(d)
}

// ListDeployments handles GET /api/v1/apps/:id/deployments
func (h *DeploymentHandler) ListDeployments(c *fiber.Ctx) error {
	list, err := h.engine.ListDeployments(c.Params("id"))
	if err != nil {
		return HandleError(c, err, "Failed to list deployments")
	}
	return c.JSON(list)
}

// GetDeployment handles GET /api/v1/deployments/:id
func (h *DeploymentHandler) GetDeployment(c *fiber.Ctx) error {
	d, err := h.engine.GetDeployment(c.Params("id"))
	if err != nil {
		return HandleError(c, err, "Failed to get deployment")
	}
	return c.JSON(d)
}

// Start handles POST /api/v1/apps/:id/start
func (h *DeploymentHandler) Start(c *fiber.Ctx) error {
	return h.lifecycle(c, h.engine.Start, "Failed to start application")
}

// Stop handles POST /api/v1/apps/:id/stop
func (h *DeploymentHandler) Stop(c *fiber.Ctx) error {
	return h.lifecycle(c, h.engine.Stop, "Failed to stop application")
}

// Restart handles POST /api/v1/apps/:id/restart
func (h *DeploymentHandler) Restart(c *fiber.Ctx) error {
	return h.lifecycle(c, h.engine.Restart, "Failed to restart application")
}

func (h *DeploymentHandler) lifecycle(c *fiber.Ctx, op func(context.Context, string) (*models.Application, error), failure string) error {
	app, err := op(c.UserContext(), c.Params("id"))
	if err != nil {
		return HandleError(c, err, failure)
	}
	return c.JSON(app)
}

// StreamEvents handles GET /api/v1/deployments/:id/events. It sends the current
// deployment as "connected", then every log and status event until the deployment ends.
func (h *DeploymentHandler) StreamEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	sub := h.events.Subscribe(services.DeploymentChannel(id), 0)

	current, err := h.engine.GetDeployment(id)
	if err != nil {
		sub.Close()
		return HandleError(c, err, "Failed to get deployment")
	}

	heartbeat := h.heartbeat
	logger := logging.Named("api")
	streamSSE(c, func(stream *sseStream) {
		defer sub.Close()

		if err := stream.Send(sseConnected, current); err != nil {
			return
		}
		if current.Status.IsTerminal() {
			_ = stream.Send(sseEnd, fiber.Map{"id": current.ID, "status": current.Status, "error": current.Error})
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					_ = stream.Send(sseError, fiber.Map{"message": "event stream closed, reload the deployment"})
					return
				}
				name := sseLog
				switch msg.Event {
				case services.EventStatus:
					name = sseStatus
				case services.EventEnd:
					_ = stream.Send(sseEnd, msg.Data)
					return
				}
				if err := stream.Send(name, msg.Data); err != nil {
					logger.Debugf("Deployment event stream %s closed: %v", id, err)
					return
				}
			case <-ticker.C:
				if err := stream.Heartbeat(); err != nil {
					return
				}
			}
		}
	})
	return nil
}
