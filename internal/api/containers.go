package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
)

// Containers is the container service used by ContainerHandler
type Containers interface {
	Status(ctx context.Context, appID string) (*docker.ContainerInfo, error)
	GetLogs(ctx context.Context, appID string, q services.LogQuery) ([]models.LogEntry, error)
	StreamLogs(ctx context.Context, appID string, q services.LogQuery, fn func(models.LogEntry) error) error
}

// LogsQuery is the query string of the log endpoints
type LogsQuery struct {
	Tail   int    `query:"tail" validate:"omitempty,min=1,max=10000"`
	Since  string `query:"since"`
	Until  string `query:"until"`
	Stream string `query:"stream" validate:"omitempty,oneof=stdout stderr all"`
}

func (q LogsQuery) toService() services.LogQuery {
	return services.LogQuery{Tail: q.Tail, Since: q.Since, Until: q.Until, Stream: q.Stream}
}

// ContainerHandler serves container status and logs
type ContainerHandler struct {
	containers Containers
	heartbeat  time.Duration
}

// NewContainerHandler creates a new container handler
func NewContainerHandler(containers Containers, heartbeat time.Duration) *ContainerHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &ContainerHandler{containers: containers, heartbeat: heartbeat}
}

// RegisterRoutes registers container routes
func (h *ContainerHandler) RegisterRoutes(router fiber.Router) {
	apps := router.Group("/apps")
	apps.Get("/:id/container", h.GetStatus)
	apps.Get("/:id/logs", h.GetLogs)
	apps.Get("/:id/logs/stream", h.StreamLogs)
}

// GetStatus handles GET /api/v1/apps/:id/container
func (h *ContainerHandler) GetStatus(c *fiber.Ctx) error {
	info, err := h.containers.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return HandleError(c, err, "Failed to inspect container")
	}
	return c.JSON(info)
}

func parseLogsQuery(c *fiber.Ctx) (LogsQuery, error) {
	var q LogsQuery
	if err := c.QueryParser(&q); err != nil {
		return q, models.NewValidationError("Invalid query parameters", nil)
	}
	return q, ValidateRequest(&q)
}

// GetLogs handles GET /api/v1/apps/:id/logs?tail=&since=&until=&stream=
func (h *ContainerHandler) GetLogs(c *fiber.Ctx) error {
	q, err := parseLogsQuery(c)
	if err != nil {
		return HandleError(c, err, "")
	}

	entries, err := h.containers.GetLogs(c.UserContext(), c.Params("id"), q.toService())
	if err != nil {
		return HandleError(c, err, "Failed to read container logs")
	}
	return c.JSON(fiber.Map{
		"app_id": c.Params("id"),
		"count":  len(entries),
		"logs":   entries,
	})
}

// StreamLogs handles GET /api/v1/apps/:id/logs/stream. Events: connected, log,
// error, heartbeat and end. The stream ends when the client goes away or the container
// stops producing output.
func (h *ContainerHandler) StreamLogs(c *fiber.Ctx) error {
	q, err := parseLogsQuery(c)
	if err != nil {
		return HandleError(c, err, "")
	}
	appID := c.Params("id")

	// Fail with a regular error response while headers can still be changed
	info, err := h.containers.Status(c.UserContext(), appID)
	if err != nil {
		return HandleError(c, err, "Failed to inspect container")
	}

	heartbeat := h.heartbeat
	containers := h.containers
	logger := logging.Named("api")
	streamSSE(c, func(stream *sseStream) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := stream.Send(sseConnected, fiber.Map{"app_id": appID, "container": info.Name}); err != nil {
			return
		}

		// A failed heartbeat is how a silent disconnect is noticed
		go func() {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := stream.Heartbeat(); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		err := containers.StreamLogs(ctx, appID, q.toService(), func(e models.LogEntry) error {
			return stream.Send(sseLog, e)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debugf("Log stream of %s ended: %v", appID, err)
			_ = stream.Send(sseError, fiber.Map{"message": "Log stream interrupted"})
		}
		_ = stream.Send(sseEnd, fiber.Map{"app_id": appID})
	})
	return nil
}
