package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TheDanniCraft/clipify-sub000/chat"
	dbpkg "github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/overlay"
	"github.com/TheDanniCraft/clipify-sub000/telemetry"
)

const (
	eventSubHeaderID        = "Twitch-Eventsub-Message-Id"
	eventSubHeaderTimestamp = "Twitch-Eventsub-Message-Timestamp"
	eventSubHeaderSignature = "Twitch-Eventsub-Message-Signature"
	eventSubHeaderType      = "Twitch-Eventsub-Message-Type"

	eventSubTypeVerification = "webhook_callback_verification"
	eventSubTypeNotification = "notification"
	eventSubTypeRevocation   = "revocation"

	redemptionEventType = "channel.channel_points_custom_reward_redemption.add"

	maxEventSubBody = 1 << 20
)

type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type redemptionEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	UserLogin         string `json:"user_login"`
	UserName          string `json:"user_name"`
	UserInput         string `json:"user_input"`
	Reward            struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reward"`
}

// HandleEventSub receives Twitch EventSub webhook callbacks. Every request is
// HMAC-verified against the shared secret before any parsing of the payload.
func (h *Handlers) HandleEventSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.cfg.ValidateWebhookReady(); err != nil {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSubBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	msgID := r.Header.Get(eventSubHeaderID)
	timestamp := r.Header.Get(eventSubHeaderTimestamp)
	if !verifyEventSubSignature(h.cfg.EventSubSecret, msgID, timestamp, body, r.Header.Get(eventSubHeaderSignature)) {
		slog.Warn("eventsub signature rejected", slog.String("message_id", msgID))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err != nil || time.Since(ts) > eventSubReplayWindow {
		http.Error(w, "stale message", http.StatusForbidden)
		return
	}

	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(eventSubHeaderType) {
	case eventSubTypeVerification:
		// Echo the challenge back as plain text to confirm the endpoint.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))
	case eventSubTypeRevocation:
		slog.Warn("eventsub subscription revoked",
			slog.String("subscription_id", env.Subscription.ID),
			slog.String("type", env.Subscription.Type))
		w.WriteHeader(http.StatusNoContent)
	case eventSubTypeNotification:
		if h.markEventSeen(msgID) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		telemetry.IncWebhookEvents()
		h.handleEventSubNotification(r, &env)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported message type", http.StatusBadRequest)
	}
}

// verifyEventSubSignature checks the sha256 HMAC over id + timestamp + body.
func verifyEventSubSignature(secret, msgID, timestamp string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

// handleEventSubNotification routes verified notifications. Twitch expects a
// 2xx regardless of whether we act on the event, so failures here are logged
// and swallowed.
func (h *Handlers) handleEventSubNotification(r *http.Request, env *eventSubEnvelope) {
	if env.Subscription.Type != redemptionEventType {
		slog.Debug("ignoring eventsub type", slog.String("type", env.Subscription.Type))
		return
	}
	var ev redemptionEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		slog.Warn("eventsub redemption decode failed", slog.Any("err", err))
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("broadcaster", ev.BroadcasterUserID),
		slog.String("redeemer", ev.UserLogin))

	ov, err := dbpkg.GetOverlayByOwner(ctx, h.db, ev.BroadcasterUserID)
	if err != nil {
		log.Error("overlay lookup failed", slog.Any("err", err))
		return
	}
	if ov == nil {
		log.Debug("redemption for broadcaster without overlay")
		return
	}
	if ov.RewardID != "" && ov.RewardID != ev.Reward.ID {
		log.Debug("redemption for unrelated reward", slog.String("reward", ev.Reward.ID))
		return
	}

	slug, err := chat.ParseClipSlug(ev.UserInput)
	if err != nil {
		log.Debug("redemption input is not a clip link", slog.String("input", ev.UserInput))
		return
	}
	clip, err := h.helix.GetClip(ctx, slug)
	if err != nil {
		log.Error("clip lookup failed", slog.String("slug", slug), slog.Any("err", err))
		return
	}
	if clip == nil || clip.BroadcasterID != ev.BroadcasterUserID {
		log.Debug("redemption clip missing or foreign", slog.String("slug", slug))
		return
	}
	if ov.MinViews > 0 && clip.ViewCount < ov.MinViews {
		log.Debug("redemption clip below view threshold", slog.Int("views", clip.ViewCount))
		return
	}
	if ov.MaxClipAgeDays > 0 && time.Since(clip.CreatedAt) > time.Duration(ov.MaxClipAgeDays)*24*time.Hour {
		log.Debug("redemption clip too old")
		return
	}

	id, err := dbpkg.EnqueueClip(ctx, h.db, &dbpkg.QueuedClip{
		BroadcasterID: ev.BroadcasterUserID,
		ClipID:        clip.ID,
		ClipURL:       clip.URL,
		Title:         clip.Title,
		RequestedBy:   ev.UserLogin,
	})
	if err != nil {
		log.Error("redemption enqueue failed", slog.Any("err", err))
		return
	}
	log.Info("redemption queued clip", slog.Int64("queue_id", id), slog.String("clip", clip.ID))

	h.hub.Broadcast(overlay.EventNewClipRedemption, map[string]any{
		"clip":         clip,
		"requested_by": ev.UserLogin,
		"queue_id":     id,
	}, ev.BroadcasterUserID)

	// Acknowledge in chat via Helix. Redemptions arrive over the webhook
	// whether or not the IRC bot sits in the channel, so replies here can't
	// go through the bot connection.
	if senderID := h.botUserID(ctx); senderID != "" {
		msg := "@" + ev.UserName + " Your clip was added to the queue!"
		if err := h.helix.SendChatMessage(ctx, ev.BroadcasterUserID, senderID, msg); err != nil {
			log.Warn("redemption chat ack failed", slog.Any("err", err))
		}
	}
}

// botUserID resolves and caches the bot account's user id for Helix chat
// sends. Returns "" when no bot account is configured or the lookup fails.
func (h *Handlers) botUserID(ctx context.Context) string {
	if h.cfg.TwitchBotUsername == "" {
		return ""
	}
	h.botIDMu.Lock()
	defer h.botIDMu.Unlock()
	if h.botID != "" {
		return h.botID
	}
	u, err := h.helix.GetUser(ctx, h.cfg.TwitchBotUsername)
	if err != nil || u == nil {
		slog.Warn("bot user lookup failed", slog.String("login", h.cfg.TwitchBotUsername), slog.Any("err", err))
		return ""
	}
	h.botID = u.ID
	return h.botID
}
