package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/pipeline"
)

// WSMessageType represents different types of WebSocket messages
type WSMessageType string

const (
	WSMessageTypeConnection WSMessageType = "connection"
	WSMessageTypePing       WSMessageType = "ping"
	WSMessageTypePong       WSMessageType = "pong"

	WSMessageTypeStageStarted  WSMessageType = "stage_started"
	WSMessageTypeStageFinished WSMessageType = "stage_finished"
	WSMessageTypeRunComplete   WSMessageType = "run_complete"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      WSMessageType `json:"type"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	ClientID  string        `json:"client_id,omitempty"`
}

// WSHubConfig holds configuration for the WebSocket hub
type WSHubConfig struct {
	MaxClients          int
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	PingInterval        time.Duration
	MaxMessageSize      int64
	ClientBufferSize    int
	BroadcastBufferSize int
}

// DefaultWSHubConfig returns the hub limits used by the server
func DefaultWSHubConfig() WSHubConfig {
	return WSHubConfig{
		MaxClients:          100,
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         60 * time.Second,
		PingInterval:        54 * time.Second,
		MaxMessageSize:      64 * 1024,
		ClientBufferSize:    64,
		BroadcastBufferSize: 256,
	}
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	hub       *WSHub
	closeOnce sync.Once
}

// WSHub fans pipeline progress out to connected WebSocket clients.
// It implements pipeline.Observer.
type WSHub struct {
	config    WSHubConfig
	upgrader  websocket.Upgrader
	log       logrus.FieldLogger
	clients   map[*WSClient]struct{}
	broadcast chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

var _ pipeline.Observer = (*WSHub)(nil)

// NewWSHub creates a new WebSocket hub instance
func NewWSHub(cfg WSHubConfig, log logrus.FieldLogger) *WSHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSHub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:       log.WithField("component", "websocket-hub"),
		clients:   make(map[*WSClient]struct{}),
		broadcast: make(chan []byte, cfg.BroadcastBufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHub()
	}()
	h.log.WithField("max_clients", h.config.MaxClients).Info("WebSocket hub started")
}

// Stop disconnects every client and waits for the hub goroutines
func (h *WSHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.log.Info("WebSocket hub stopped")
}

// ClientCount returns the number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnStage publishes a pipeline event to every client. It never blocks; the
// event is dropped when the broadcast buffer is full.
func (h *WSHub) OnStage(ev pipeline.StageEvent) {
	msgType := WSMessageTypeStageStarted
	switch ev.Phase {
	case pipeline.PhaseFinished:
		msgType = WSMessageTypeStageFinished
	case pipeline.PhaseCompleted:
		msgType = WSMessageTypeRunComplete
	}
	h.Broadcast(msgType, ev)
}

// Broadcast sends a message to all connected clients
func (h *WSHub) Broadcast(messageType WSMessageType, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data, Timestamp: time.Now()})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	select {
	case <-h.ctx.Done():
	case h.broadcast <- msgBytes:
	default:
		h.log.Warn("Broadcast channel full, dropping message")
	}
}

// ServeHTTP upgrades the request and registers the client
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &WSClient{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, h.config.ClientBufferSize),
		done:        make(chan struct{}),
		hub:         h,
	}

	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub full"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client.sendMessage(WSMessage{
		Type:      WSMessageTypeConnection,
		Data:      map[string]interface{}{"status": "connected", "client_id": client.ID},
		Timestamp: time.Now(),
		ClientID:  client.ID,
	})

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *WSHub) register(client *WSClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx.Err() != nil {
		return false
	}
	if len(h.clients) >= h.config.MaxClients {
		h.log.Warn("Maximum client limit reached, rejecting connection")
		return false
	}
	h.clients[client] = struct{}{}
	// added under the lock so Stop never waits on a group it is still growing
	h.wg.Add(2)
	h.log.WithFields(logrus.Fields{
		"client_id":     client.ID,
		"remote_addr":   client.RemoteAddr,
		"total_clients": len(h.clients),
	}).Info("WebSocket client connected")
	return true
}

func (h *WSHub) unregister(client *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	client.close()
	if ok {
		h.log.WithField("client_id", client.ID).Info("WebSocket client disconnected")
	}
}

func (h *WSHub) runHub() {
	for {
		select {
		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*WSClient
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				h.log.WithField("client_id", client.ID).Warn("Client send buffer full, disconnecting")
				h.unregister(client)
			}

		case <-h.ctx.Done():
			return
		}
	}
}

func (c *WSClient) sendMessage(message WSMessage) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		c.hub.log.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- msgBytes:
	default:
		c.hub.log.WithField("client_id", c.ID).Warn("Client send channel full")
	}
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *WSClient) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).WithField("client_id", c.ID).Debug("WebSocket read error")
			}
			return
		}

		switch msg.Type {
		case WSMessageTypePing:
			c.sendMessage(WSMessage{Type: WSMessageTypePong, Timestamp: time.Now(), ClientID: c.ID})
		default:
			c.hub.log.WithFields(logrus.Fields{
				"client_id":    c.ID,
				"message_type": msg.Type,
			}).Debug("Received WebSocket message")
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return

		case <-c.hub.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
