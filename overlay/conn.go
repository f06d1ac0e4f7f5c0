package overlay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Non-standard close codes. Clients key reconnect/error UI off these, so the
// values are part of the wire contract.
const (
	CloseSubscribeTimeout   = 4001
	CloseUnknownOverlay     = 4002
	CloseUnsupportedMessage = 4003
)

const writeWait = 10 * time.Second

// connState is the explicit connection lifecycle. Transitions only move
// forward: unauthenticated -> subscribed -> closed.
type connState int

const (
	stateUnauthenticated connState = iota
	stateSubscribed
	stateClosed
)

// Conn is one accepted overlay websocket connection.
type Conn struct {
	ws  *websocket.Conn
	hub *Hub

	mu          sync.Mutex // guards state, broadcaster, isAlive, deadline, and writes
	state       connState
	broadcaster string
	isAlive     bool
	deadline    *time.Timer

	cleanupOnce sync.Once
}

// Broadcaster returns the broadcaster id this connection subscribed to, or
// "" before a successful subscribe.
func (c *Conn) Broadcaster() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcaster
}

// subscribed marks the connection subscribed to a broadcaster and cancels the
// subscribe deadline. Returns false if the connection is no longer in the
// unauthenticated state (already subscribed or closed while the overlay
// lookup was in flight).
func (c *Conn) subscribed(broadcasterID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateUnauthenticated {
		return false
	}
	c.state = stateSubscribed
	c.broadcaster = broadcasterID
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	return true
}

// markAlive flips the heartbeat flag, set by the peer's pong.
func (c *Conn) markAlive() {
	c.mu.Lock()
	c.isAlive = true
	c.mu.Unlock()
}

// checkAndResetAlive reports the current liveness flag and arms the next
// probe cycle by clearing it.
func (c *Conn) checkAndResetAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	alive := c.isAlive
	c.isAlive = false
	return alive
}

// sendJSON writes a JSON frame if the connection is still open. A send to a
// closing connection is skipped silently; the dispatcher has no retry or
// queueing semantics.
func (c *Conn) sendJSON(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return false
	}
	return true
}

// sendText writes a plain text frame (used for the subscribe ack, which is
// not JSON for client compatibility).
func (c *Conn) sendText(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		return false
	}
	return true
}

// ping sends a transport-level ping control frame.
func (c *Conn) ping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWithCode sends a close frame with the given status code and tears the
// connection down.
func (c *Conn) closeWithCode(code int, reason string) {
	c.mu.Lock()
	if c.state != stateClosed {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	c.mu.Unlock()
	c.teardown()
}

// teardown transitions to closed and releases resources. Runs exactly once
// per connection no matter which event (close frame, read error, deadline,
// heartbeat kill) triggered it.
func (c *Conn) teardown() {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		if c.deadline != nil {
			c.deadline.Stop()
			c.deadline = nil
		}
		broadcaster := c.broadcaster
		c.mu.Unlock()

		_ = c.ws.Close()
		c.hub.forget(c, broadcaster)
	})
}
