package overlay

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/telemetry"
)

// Event type names on the server-to-client wire.
const (
	EventCommand           = "command"
	EventNewClipRedemption = "new_clip_redemption"
)

// Message is the JSON frame shape in both directions (except the subscribe
// ack, which is plain text).
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OverlayLookup resolves an overlay id to its record. Implemented by the db
// layer in production and by fakes in tests.
type OverlayLookup interface {
	GetOverlay(ctx context.Context, id string) (*db.Overlay, error)
}

// SQLLookup adapts a *sql.DB to OverlayLookup.
type SQLLookup struct{ DB *sql.DB }

func (l *SQLLookup) GetOverlay(ctx context.Context, id string) (*db.Overlay, error) {
	return db.GetOverlay(ctx, l.DB, id)
}

// Hub owns the subscriber registry and the heartbeat driver, and handles
// websocket upgrades. Construct one per process and share it: the registry's
// whole purpose is cross-connection visibility.
type Hub struct {
	registry *Registry
	lookup   OverlayLookup

	subscribeTimeout  time.Duration
	heartbeatInterval time.Duration

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{} // every open connection, subscribed or not
}

// NewHub creates a hub. The heartbeat driver starts when Run is called; it is
// process-wide, not per-connection.
func NewHub(lookup OverlayLookup, subscribeTimeout, heartbeatInterval time.Duration) *Hub {
	if subscribeTimeout <= 0 {
		subscribeTimeout = 10 * time.Second
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Hub{
		registry:          NewRegistry(),
		lookup:            lookup,
		subscribeTimeout:  subscribeTimeout,
		heartbeatInterval: heartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The overlay is a browser source; it loads from a file:// or
			// OBS-internal origin, so origin checking is disabled.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
}

// Registry exposes the subscriber registry (read-only use in handlers/tests).
func (h *Hub) Registry() *Registry { return h.registry }

// Run drives the heartbeat loop until ctx is cancelled. Every interval,
// connections that did not answer the previous ping are terminated; the rest
// are pinged again.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.checkAndResetAlive() {
			slog.Debug("terminating unresponsive overlay connection", slog.String("broadcaster", c.Broadcaster()))
			c.teardown()
			continue
		}
		c.ping()
	}
}

// ServeWS upgrades an HTTP request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &Conn{ws: ws, hub: h, state: stateUnauthenticated, isAlive: true}
	ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	c.mu.Lock()
	c.deadline = time.AfterFunc(h.subscribeTimeout, func() {
		c.closeWithCode(CloseSubscribeTimeout, "subscribe timeout")
	})
	c.mu.Unlock()

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	telemetry.AddOpenConnections(1)

	h.readLoop(r.Context(), c)
}

// readLoop consumes client frames. The only message a client may send is a
// subscribe; anything else closes the connection.
func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	defer c.teardown()
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("overlay connection read error", slog.Any("err", err))
			}
			return
		}

		if msg.Type != "subscribe" {
			c.closeWithCode(CloseUnsupportedMessage, "unsupported message")
			return
		}

		var overlayID string
		if err := json.Unmarshal(msg.Data, &overlayID); err != nil || overlayID == "" {
			c.closeWithCode(CloseUnknownOverlay, "unknown overlay")
			return
		}
		if !h.subscribe(ctx, c, overlayID) {
			return
		}
	}
}

// subscribe resolves the overlay and registers the connection. Returns false
// when the connection was closed as part of handling the message.
func (h *Hub) subscribe(ctx context.Context, c *Conn, overlayID string) bool {
	o, err := h.lookup.GetOverlay(ctx, overlayID)
	if err != nil {
		slog.Error("overlay lookup failed", slog.String("overlay_id", overlayID), slog.Any("err", err))
		c.closeWithCode(CloseUnknownOverlay, "unknown overlay")
		return false
	}
	if o == nil {
		c.closeWithCode(CloseUnknownOverlay, "unknown overlay")
		return false
	}

	// A second subscribe on an already-subscribed connection is an
	// unsupported message; the connection may also have been torn down
	// while the lookup was in flight.
	if !c.subscribed(o.OwnerID) {
		c.closeWithCode(CloseUnsupportedMessage, "unsupported message")
		return false
	}

	h.registry.Add(o.OwnerID, c)
	telemetry.IncSubscriptions()

	// Ack is plain text, not JSON; existing overlay clients parse it as-is.
	if !c.sendText("subscribed " + o.OwnerID) {
		c.teardown()
		return false
	}
	slog.Info("overlay subscribed", slog.String("overlay_id", overlayID), slog.String("broadcaster", o.OwnerID))
	return true
}

// forget removes a connection from the hub and, when it was subscribed, from
// the registry. Called from Conn.teardown exactly once per connection.
func (h *Hub) forget(c *Conn, broadcaster string) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if broadcaster != "" {
		h.registry.Remove(broadcaster, c)
	}
	if present {
		telemetry.AddOpenConnections(-1)
	}
}

// Broadcast serializes {type, data} and sends it to every open connection
// subscribed to broadcasterID, or to every subscribed connection anywhere
// when broadcasterID is empty. Connections that are not open at send time
// are skipped silently.
func (h *Hub) Broadcast(eventType string, data any, broadcasterID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("broadcast payload marshal failed", slog.String("type", eventType), slog.Any("err", err))
		return
	}
	msg := Message{Type: eventType, Data: raw}

	var conns []*Conn
	if broadcasterID != "" {
		conns = h.registry.Get(broadcasterID)
	} else {
		conns = h.registry.All()
	}

	delivered, dropped := 0, 0
	for _, c := range conns {
		if c.sendJSON(msg) {
			delivered++
		} else {
			dropped++
		}
	}
	telemetry.IncBroadcast(delivered, dropped)
	slog.Debug("broadcast dispatched",
		slog.String("type", eventType),
		slog.String("broadcaster", broadcasterID),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped))
}
