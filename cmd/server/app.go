package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jared-cannon/homelab-launchpad/internal/api"
	"github.com/jared-cannon/homelab-launchpad/internal/config"
	"github.com/jared-cannon/homelab-launchpad/internal/middleware"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
	"github.com/jared-cannon/homelab-launchpad/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// deps are the services behind the HTTP API
type deps struct {
	applications api.Applications
	deployments  api.Deployments
	containers   api.Containers
	ports        api.Ports
	hub          *websocket.Hub
	engine       api.Pinger
	metrics      *services.Metrics
	gatherer     prometheus.Gatherer
}

// newApp builds the Fiber app. /api/v1/health and /metrics are public; every other
// route requires a bearer token when APP_KEY is set.
func newApp(cfg *config.Config, d deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Homelab Launchpad",
	})

	app.Use(recover.New())
	if !cfg.IsProduction() {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	if d.metrics != nil {
		app.Use(api.MetricsMiddleware(d.metrics))
	}

	apiGroup := app.Group("/api/v1")
	api.NewHealthHandler(d.engine, version).RegisterRoutes(apiGroup)

	protected := apiGroup.Group("", middleware.AuthMiddleware(cfg.AppKey))
	api.NewApplicationHandler(d.applications).RegisterRoutes(protected)

	var events api.Subscriber
	if d.hub != nil {
		events = d.hub
	}
	api.NewDeploymentHandler(d.deployments, events, cfg.LogHeartbeat).RegisterRoutes(protected)
	api.NewContainerHandler(d.containers, cfg.LogHeartbeat).RegisterRoutes(protected)
	api.NewPortHandler(d.ports).RegisterRoutes(protected)

	if d.gatherer != nil {
		api.RegisterMetrics(app, d.gatherer)
	}
	if d.hub != nil {
		app.Use("/ws", middleware.AuthMiddleware(cfg.AppKey))
		api.NewWebSocketHandler(d.hub).RegisterRoutes(app)
	}

	return app
}
