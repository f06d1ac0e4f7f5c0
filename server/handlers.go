// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/TheDanniCraft/clipify-sub000/config"
	"github.com/TheDanniCraft/clipify-sub000/overlay"
	"github.com/TheDanniCraft/clipify-sub000/tokens"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000

	// How long to remember handled EventSub message IDs for replay suppression
	eventSubReplayWindow = 10 * time.Minute
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db    *sql.DB
	ctx   context.Context
	cfg   *config.Config
	hub   *overlay.Hub
	toks  *tokens.Manager
	helix *twitchapi.HelixClient

	// authBase overrides the Twitch id host for tests; empty means production.
	authBase string

	stateStore map[string]time.Time
	stateMu    sync.RWMutex

	seenEvents map[string]time.Time
	seenMu     sync.Mutex

	botID   string
	botIDMu sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, cfg *config.Config, hub *overlay.Hub, toks *tokens.Manager, helix *twitchapi.HelixClient) *Handlers {
	return &Handlers{
		db:         db,
		ctx:        ctx,
		cfg:        cfg,
		hub:        hub,
		toks:       toks,
		helix:      helix,
		stateStore: make(map[string]time.Time),
		seenEvents: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes an OAuth state. Returns false for
// unknown or expired states.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// markEventSeen records an EventSub message id and reports whether it was
// already handled inside the replay window. Twitch retries notifications, so
// duplicates are expected and must not double-enqueue clips.
func (h *Handlers) markEventSeen(messageID string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	now := time.Now()
	if len(h.seenEvents)%100 == 0 {
		for id, at := range h.seenEvents {
			if now.Sub(at) > eventSubReplayWindow {
				delete(h.seenEvents, id)
			}
		}
	}
	if _, dup := h.seenEvents[messageID]; dup {
		return true
	}
	h.seenEvents[messageID] = now
	return false
}
