package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	ws "github.com/jared-cannon/homelab-launchpad/internal/websocket"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection serves one client until it disconnects. Channels listed in the
// "channels" query parameter (comma separated) are subscribed up front.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	var channels []string
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	client := ws.NewClient(h.hub, c, channels...)
	client.Start()
	// The connection is closed by fiber once the handler returns
	client.Wait()
}

// RegisterRoutes registers WebSocket routes on router (mounted behind auth when enabled)
func (h *WebSocketHandler) RegisterRoutes(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.HandleConnection))
}
