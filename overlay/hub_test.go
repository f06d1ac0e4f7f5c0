package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheDanniCraft/clipify-sub000/db"
)

type fakeLookup struct {
	overlays map[string]*db.Overlay
}

func (f *fakeLookup) GetOverlay(_ context.Context, id string) (*db.Overlay, error) {
	return f.overlays[id], nil
}

func newWSServer(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newHubServer(t *testing.T, subscribeTimeout time.Duration) (*Hub, string) {
	t.Helper()
	lookup := &fakeLookup{overlays: map[string]*db.Overlay{
		"ov-1": {ID: "ov-1", OwnerID: "b1", Status: db.OverlayActive},
		"ov-2": {ID: "ov-2", OwnerID: "b2", Status: db.OverlayActive},
	}}
	h := NewHub(lookup, subscribeTimeout, time.Minute)
	return h, newWSServer(t, h)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, overlayID, wantBroadcaster string) {
	t.Helper()
	if err := ws.WriteJSON(map[string]string{"type": "subscribe", "data": overlayID}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("ack frame type = %d, want text", mt)
	}
	want := "subscribed " + wantBroadcaster
	if string(payload) != want {
		t.Fatalf("ack = %q, want %q", payload, want)
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, wantCode int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("connection ended without close frame: %v", err)
		}
		if ce.Code != wantCode {
			t.Fatalf("close code = %d, want %d", ce.Code, wantCode)
		}
		return
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func TestHub_SubscribeAck(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	subscribe(t, ws, "ov-1", "b1")

	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 }, "registry registration")
}

func TestHub_UnknownOverlayClosedWith4002(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	if err := ws.WriteJSON(map[string]string{"type": "subscribe", "data": "nope"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	expectClose(t, ws, CloseUnknownOverlay)

	// Connection never reached the registry.
	if n := h.Registry().Len("b1"); n != 0 {
		t.Errorf("registry has %d connections, want 0", n)
	}
}

func TestHub_UnsupportedMessageClosedWith4003(t *testing.T) {
	_, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	if err := ws.WriteJSON(map[string]string{"type": "bogus", "data": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, ws, CloseUnsupportedMessage)
}

func TestHub_SecondSubscribeClosedWith4003(t *testing.T) {
	_, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	subscribe(t, ws, "ov-1", "b1")
	if err := ws.WriteJSON(map[string]string{"type": "subscribe", "data": "ov-2"}); err != nil {
		t.Fatalf("write second subscribe: %v", err)
	}
	expectClose(t, ws, CloseUnsupportedMessage)
}

func TestHub_SubscribeDeadlineClosedWith4001(t *testing.T) {
	_, url := newHubServer(t, 100*time.Millisecond)
	ws := dial(t, url)
	// Never subscribe; the deadline fires.
	expectClose(t, ws, CloseSubscribeTimeout)
}

func TestHub_BroadcastFanout(t *testing.T) {
	h, url := newHubServer(t, time.Minute)

	b1Conns := []*websocket.Conn{dial(t, url), dial(t, url), dial(t, url)}
	for _, ws := range b1Conns {
		subscribe(t, ws, "ov-1", "b1")
	}
	b2 := dial(t, url)
	subscribe(t, b2, "ov-2", "b2")

	waitFor(t, func() bool { return h.Registry().Len("b1") == 3 && h.Registry().Len("b2") == 1 }, "all subscriptions registered")

	h.Broadcast(EventCommand, map[string]string{"action": "play"}, "b1")

	for i, ws := range b1Conns {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("b1 conn %d read: %v", i, err)
		}
		if msg.Type != EventCommand {
			t.Errorf("b1 conn %d type = %q, want %q", i, msg.Type, EventCommand)
		}
		var data map[string]string
		if err := json.Unmarshal(msg.Data, &data); err != nil || data["action"] != "play" {
			t.Errorf("b1 conn %d data = %s", i, msg.Data)
		}
	}

	// The b2 connection must receive nothing.
	_ = b2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := b2.ReadMessage(); err == nil {
		t.Errorf("b2 connection received a message targeted at b1")
	}
}

func TestHub_GlobalBroadcast(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws1 := dial(t, url)
	subscribe(t, ws1, "ov-1", "b1")
	ws2 := dial(t, url)
	subscribe(t, ws2, "ov-2", "b2")
	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 && h.Registry().Len("b2") == 1 }, "subscriptions registered")

	h.Broadcast("announcement", map[string]string{"text": "maintenance"}, "")

	for i, ws := range []*websocket.Conn{ws1, ws2} {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("conn %d read: %v", i, err)
		}
		if msg.Type != "announcement" {
			t.Errorf("conn %d type = %q, want announcement", i, msg.Type)
		}
	}
}

func TestHub_BroadcastNullData(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	subscribe(t, ws, "ov-1", "b1")
	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 }, "subscription registered")

	// Resume-playback commands carry a null payload.
	h.Broadcast(EventCommand, nil, "b1")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != `{"type":"command","data":null}` {
		t.Errorf("frame = %s, want null data payload", raw)
	}
}

func TestHub_ClientCloseCleansRegistry(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	subscribe(t, ws, "ov-1", "b1")
	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 }, "subscription registered")

	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = ws.Close()

	waitFor(t, func() bool { return h.Registry().Get("b1") == nil }, "registry pruned after close")
}

func TestHub_HeartbeatTerminatesDeadConnections(t *testing.T) {
	lookup := &fakeLookup{overlays: map[string]*db.Overlay{
		"ov-1": {ID: "ov-1", OwnerID: "b1", Status: db.OverlayActive},
	}}
	h := NewHub(lookup, time.Minute, time.Minute)
	url := newWSServer(t, h)
	ws := dial(t, url)
	// Suppress the client's automatic pong so the probe sees a dead peer.
	ws.SetPingHandler(func(string) error { return nil })
	subscribe(t, ws, "ov-1", "b1")
	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 }, "subscription registered")

	// First sweep clears isAlive and pings; second sweep sees no pong
	// arrived and terminates.
	h.heartbeat()
	h.heartbeat()

	waitFor(t, func() bool { return h.Registry().Get("b1") == nil }, "dead connection removed")
}

func TestHub_HeartbeatKeepsResponsiveConnections(t *testing.T) {
	h, url := newHubServer(t, time.Minute)
	ws := dial(t, url)
	subscribe(t, ws, "ov-1", "b1")
	waitFor(t, func() bool { return h.Registry().Len("b1") == 1 }, "subscription registered")

	// Keep the client reading so its default ping handler answers pongs.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.heartbeat()
	time.Sleep(200 * time.Millisecond) // allow the pong to round-trip
	h.heartbeat()
	time.Sleep(100 * time.Millisecond)

	if h.Registry().Len("b1") != 1 {
		t.Errorf("responsive connection was terminated by heartbeat")
	}
}
