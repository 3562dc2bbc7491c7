package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tdoa/internal/doa"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections and broadcasts bearing updates
type WSHub struct {
	tracker  *doa.Tracker
	stats    func() Stats
	interval time.Duration
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	quit      chan struct{}
	closeOnce sync.Once
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(tracker *doa.Tracker, stats func() Stats, interval time.Duration, metrics *observe.Metrics, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond // 10Hz
	}
	return &WSHub{
		tracker:  tracker,
		stats:    stats,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		clients:  make(map[*websocket.Conn]*client),
		quit:     make(chan struct{}),
	}
}

// Run starts the broadcast loop. Bearings are pushed as the tracker resolves
// them. The diagnostic plots and the window are sent on the next tick after
// they change.
func (h *WSHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var updates chan doa.Result
	if h.tracker != nil {
		updates = h.tracker.Subscribe()
		defer h.tracker.Unsubscribe(updates)
	}
	var lastUpdate time.Time

	h.logger.Info("websocket hub started", "interval", h.interval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case <-h.quit:
			h.logger.Info("websocket hub closed")
			return
		case result, ok := <-updates:
			if !ok {
				// tracker stopped
				updates = nil
				continue
			}
			if h.ClientCount() > 0 {
				h.broadcast(protocol.TypeBearing, result.Bearing())
			}
		case <-ticker.C:
			if h.tracker == nil || h.ClientCount() == 0 {
				continue
			}

			snap := h.tracker.Snapshot()
			if !snap.Updated.After(lastUpdate) {
				continue
			}
			lastUpdate = snap.Updated

			h.broadcast(protocol.TypeSpectrum, protocol.NewSpectrumData(
				snap.LeftSpectrum, snap.LeftThreshold, snap.RightSpectrum, snap.RightThreshold))
			h.broadcast(protocol.TypeCorrelation, protocol.CorrelationData{Points: snap.Correlation})
			h.broadcast(protocol.TypeWindow, protocol.WindowData{
				Raw:      snap.Window.Raw,
				Smoothed: snap.Window.Smoothed,
			})
		}
	}
}

func (h *WSHub) broadcast(t protocol.MessageType, payload any) {
	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if err := c.write(data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the bearing stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	cl := &client{conn: c}

	h.mu.Lock()
	h.clients[c] = cl
	clientCount := len(h.clients)
	h.mu.Unlock()
	h.metrics.AddWebSocketClients(context.Background(), 1)

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		_, present := h.clients[c]
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()
		if present {
			h.metrics.AddWebSocketClients(context.Background(), -1)
		}

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		h.handleCommand(cl, msg)
	}
}

func (h *WSHub) handleCommand(c *client, raw []byte) {
	cmd, err := protocol.ParseMessage(raw)
	if err != nil {
		return
	}

	var reply *protocol.Message
	switch cmd.Type {
	case protocol.TypePing:
		reply, err = protocol.NewMessage(protocol.TypePong, nil)
	case protocol.TypeGetStats:
		if h.stats == nil {
			return
		}
		reply, err = protocol.NewMessage(protocol.TypeStats, h.stats())
	default:
		return
	}
	if err != nil {
		h.logger.Warn("websocket reply error", "error", err)
		return
	}

	data, err := reply.Bytes()
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })

	// Close all client connections
	h.mu.Lock()
	n := len(h.clients)
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()
	h.metrics.AddWebSocketClients(context.Background(), -int64(n))
}
