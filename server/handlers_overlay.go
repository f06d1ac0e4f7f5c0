package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	dbpkg "github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/overlay"
)

// HandleOverlayDispatcher routes /overlays/{id}/... paths.
func (h *Handlers) HandleOverlayDispatcher(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/overlays/"), "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "queue":
		h.handleOverlayQueue(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "queue" && parts[2] == "next":
		h.handleOverlayQueueNext(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "queue" && parts[3] == "approve":
		h.handleOverlayQueueApprove(w, r, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

// authorizeOverlay loads the overlay and checks the secret query parameter.
// Writes the error response itself and returns nil when the caller should
// stop.
func (h *Handlers) authorizeOverlay(w http.ResponseWriter, r *http.Request, overlayID string) *dbpkg.Overlay {
	ov, err := dbpkg.GetOverlay(r.Context(), h.db, overlayID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	if ov == nil {
		http.NotFound(w, r)
		return nil
	}
	if secret := r.URL.Query().Get("secret"); secret != ov.Secret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}
	return ov
}

// handleOverlayQueue returns the overlay's clip queue as JSON. The overlay
// secret doubles as the read credential so queue contents aren't public.
func (h *Handlers) handleOverlayQueue(w http.ResponseWriter, r *http.Request, overlayID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	ov := h.authorizeOverlay(w, r, overlayID)
	if ov == nil {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = dbpkg.ClipPending
	}
	limit := parseIntQuery(r, "limit", 50)
	clips, err := dbpkg.ListQueue(ctx, h.db, ov.OwnerID, status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if clips == nil {
		clips = []dbpkg.QueuedClip{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"overlay_id": ov.ID,
		"status":     status,
		"clips":      clips,
	}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// handleOverlayQueueNext pops the oldest approved clip, marks it played, and
// broadcasts it to the overlay's connections. The player calls this when it
// finishes the current clip.
func (h *Handlers) handleOverlayQueueNext(w http.ResponseWriter, r *http.Request, overlayID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	ov := h.authorizeOverlay(w, r, overlayID)
	if ov == nil {
		return
	}
	clip, err := dbpkg.NextApprovedClip(ctx, h.db, ov.OwnerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if clip == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.hub.Broadcast(overlay.EventCommand, map[string]any{
		"command": "play",
		"data":    clip,
	}, ov.OwnerID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(clip); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// handleOverlayQueueApprove moves a pending queue entry to approved.
func (h *Handlers) handleOverlayQueueApprove(w http.ResponseWriter, r *http.Request, overlayID, queueID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	ov := h.authorizeOverlay(w, r, overlayID)
	if ov == nil {
		return
	}
	id, err := strconv.ParseInt(queueID, 10, 64)
	if err != nil {
		http.Error(w, "bad queue id", http.StatusBadRequest)
		return
	}
	if err := dbpkg.ApproveClip(ctx, h.db, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
