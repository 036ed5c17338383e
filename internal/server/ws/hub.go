// Package ws streams pool events to WebSocket clients. Events arrive on the
// signal bus and are fanned out to every client whose pool filter matches.
// Clients choose JSON text frames (default) or protobuf binary frames
// (?format=binary) carrying a google.protobuf.Struct.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StatusFunc reports the node status sent to clients on connect.
type StatusFunc func() domain.ServiceStatus

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	binary bool

	mu    sync.RWMutex
	pools map[common.Address]bool // empty means every pool
}

// frame is an encoded outgoing message.
type frame struct {
	kind int
	data []byte
}

// subscribeMsg is sent by clients to change their pool filter.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Pools  []string `json:"pools"`
}

// Hub tracks connected clients and relays pool events to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan domain.PoolEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	status     StatusFunc
	logger     *slog.Logger
}

// NewHub creates a Hub fed by bus. status may be nil.
func NewHub(bus domain.SignalBus, status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.PoolEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to the pool event channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelPoolEvents)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed to pool events")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case payload, ok := <-events:
			if !ok {
				h.logger.Warn("pool event subscription closed")
				events = nil
				continue
			}
			var ev domain.PoolEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				h.logger.Warn("dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(ev)

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// Broadcast injects an event directly, bypassing the bus.
func (h *Hub) Broadcast(ev domain.PoolEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", slog.String("event_id", ev.ID))
	}
}

func (h *Hub) fanOut(ev domain.PoolEvent) {
	msg := eventMessage(ev)
	var text, bin []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.Pool) {
			continue
		}
		f, err := c.encode(msg, &text, &bin)
		if err != nil {
			h.logger.Warn("encode event failed", slog.String("error", err.Error()))
			return
		}
		select {
		case c.send <- f:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws?pool=0x..&format=binary
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		binary: r.URL.Query().Get("format") == "binary",
		pools:  make(map[common.Address]bool),
	}
	for _, p := range r.URL.Query()["pool"] {
		if common.IsHexAddress(p) {
			c.pools[common.HexToAddress(p)] = true
		}
	}

	// Queued before registration so it is always the first frame.
	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(pool common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools) == 0 || c.pools[pool]
}

// encode reuses the text or binary encoding already produced for another
// client.
func (c *client) encode(msg map[string]any, text, bin *[]byte) (frame, error) {
	if c.binary {
		if *bin == nil {
			data, err := encodeBinary(msg)
			if err != nil {
				return frame{}, err
			}
			*bin = data
		}
		return frame{kind: websocket.BinaryMessage, data: *bin}, nil
	}
	if *text == nil {
		data, err := json.Marshal(msg)
		if err != nil {
			return frame{}, err
		}
		*text = data
	}
	return frame{kind: websocket.TextMessage, data: *text}, nil
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range msg.Pools {
		if !common.IsHexAddress(p) {
			continue
		}
		addr := common.HexToAddress(p)
		switch strings.ToLower(msg.Action) {
		case "subscribe":
			c.pools[addr] = true
		case "unsubscribe":
			delete(c.pools, addr)
		}
	}
}

func (c *client) sendStatus() {
	if c.hub.status == nil {
		return
	}
	st := c.hub.status()
	msg := map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           st.Mode,
			"uptime_seconds": st.UptimeSeconds,
			"pools":          st.Pools,
			"open_pools":     st.OpenPools,
			"keeper_enabled": st.KeeperEnabled,
		},
	}
	var text, bin []byte
	f, err := c.encode(msg, &text, &bin)
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// readPump handles subscription changes and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump writes queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
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
