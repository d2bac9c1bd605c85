package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"go.uber.org/zap"
)

const (
	clientBuffer = 256
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second

	// DefaultSubscriptionBuffer is used when Subscribe is given a non-positive size
	DefaultSubscriptionBuffer = 256
)

// Message is one event published on a channel
type Message struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
}

// Subscription receives the messages of one channel in-process.
// C is closed when the subscription ends: on Close, on hub shutdown, or when the
// subscriber falls behind and its buffer overflows.
type Subscription struct {
	C       <-chan *Message
	ch      chan *Message
	channel string
	hub     *Hub
	closed  bool
	dropped bool
}

// Dropped reports whether the subscription was ended because its buffer overflowed.
// Only meaningful after C is closed.
func (s *Subscription) Dropped() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeSubscriptionLocked(s, false)
}

// Hub fans published messages out to websocket clients and in-process subscribers
type Hub struct {
	clients       map[*Client]bool
	subscriptions map[string]map[*Subscription]struct{}
	broadcast     chan *Message
	register      chan *Client
	unregister    chan *Client
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
	mu            sync.RWMutex
	logger        *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Subscription]struct{}),
		broadcast:     make(chan *Message, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		shutdownChan:  make(chan struct{}),
		logger:        logging.Named("websocket"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdownChan:
			h.logger.Info("Hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			for _, subs := range h.subscriptions {
				for sub := range subs {
					h.removeSubscriptionLocked(sub, false)
				}
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugf("Client connected (total: %d)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugf("Client disconnected (total: %d)", total)

		case message := <-h.broadcast:
			h.dispatch(message)
		}
	}
}

// dispatch delivers one message. Slow receivers are removed instead of blocking the hub.
func (h *Hub) dispatch(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Errorf("Failed to marshal message on %s: %v", message.Channel, err)
		return
	}

	h.mu.RLock()
	var slowClients []*Client
	for client := range h.clients {
		if !client.subscribed(message.Channel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slowClients = append(slowClients, client)
		}
	}
	var slowSubs []*Subscription
	for sub := range h.subscriptions[message.Channel] {
		select {
		case sub.ch <- message:
		default:
			slowSubs = append(slowSubs, sub)
		}
	}
	h.mu.RUnlock()

	if len(slowClients) == 0 && len(slowSubs) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slowClients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			client.closeSend()
			h.logger.Warnf("Dropped slow websocket client on %s", message.Channel)
		}
	}
	for _, sub := range slowSubs {
		h.removeSubscriptionLocked(sub, true)
		h.logger.Warnf("Dropped slow subscriber on %s", message.Channel)
	}
	h.mu.Unlock()
}

// Broadcast publishes a message on channel. It returns without delivering once the hub is shut down.
func (h *Hub) Broadcast(channel string, event string, data interface{}) {
	message := &Message{
		Channel: channel,
		Event:   event,
		Data:    data,
	}
	select {
	case h.broadcast <- message:
	case <-h.shutdownChan:
	}
}

// Subscribe registers an in-process subscriber on channel with a buffer of the given size
func (h *Hub) Subscribe(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	ch := make(chan *Message, buffer)
	sub := &Subscription{C: ch, ch: ch, channel: channel, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.shutdownChan:
		sub.closed = true
		close(ch)
		return sub
	default:
	}
	if h.subscriptions[channel] == nil {
		h.subscriptions[channel] = make(map[*Subscription]struct{})
	}
	h.subscriptions[channel][sub] = struct{}{}
	return sub
}

// SubscriberCount returns the number of websocket clients and in-process subscribers listening on channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.subscriptions[channel])
	for client := range h.clients {
		if client.subscribed(channel) {
			n++
		}
	}
	return n
}

func (h *Hub) removeSubscriptionLocked(sub *Subscription, dropped bool) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.dropped = dropped
	close(sub.ch)
	if subs, ok := h.subscriptions[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscriptions, sub.channel)
		}
	}
}

// Shutdown gracefully shuts down the WebSocket hub
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdownChan) })
}

// controlMessage is what clients send to change their subscriptions
type controlMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// handleControl applies a subscribe/unsubscribe request. Unknown input is ignored.
func (c *Client) handleControl(raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, channel := range msg.Channels {
			c.channels[channel] = true
		}
	case "unsubscribe":
		for _, channel := range msg.Channels {
			delete(c.channels, channel)
		}
	}
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// closeSend closes the send channel once; the caller holds the hub lock
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// readPump handles incoming messages from clients
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdownChan:
		}
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.logger.Debugf("readPump ended: %v", err)
			return
		}
		c.handleControl(message)
	}
}

// writePump handles outgoing messages to clients
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debugf("Error writing message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewClient creates a new WebSocket client, optionally pre-subscribed to channels
func NewClient(hub *Hub, conn *websocket.Conn, channels ...string) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, clientBuffer),
		channels: make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

// Start begins processing for a client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
	select {
	case c.hub.register <- c:
	case <-c.hub.shutdownChan:
	}
}

// Wait blocks until the client connection is closed
func (c *Client) Wait() {
	<-c.done
}
