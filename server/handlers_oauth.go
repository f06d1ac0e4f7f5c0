package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	dbpkg "github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/tokens"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

// oauthConfig builds the authorization-code flow config. Twitch wants client
// credentials in the POST body, not basic auth.
func (h *Handlers) oauthConfig() *oauth2.Config {
	base := h.authBase
	if base == "" {
		base = twitchapi.DefaultAuthBase
	}
	return &oauth2.Config{
		ClientID:     h.cfg.TwitchClientID,
		ClientSecret: h.cfg.TwitchClientSecret,
		RedirectURL:  h.cfg.TwitchRedirectURI,
		Scopes:       strings.Fields(h.cfg.TwitchScopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth2/authorize",
			TokenURL:  base + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// HandleOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.ValidateOAuthReady(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.oauthConfig().AuthCodeURL(st), http.StatusFound)
}

// HandleOAuthCallback handles the OAuth callback from Twitch: it exchanges
// the code, resolves the token's owner, persists the encrypted pair, and
// makes sure the broadcaster has an overlay.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	tok, err := h.oauthConfig().Exchange(ctx, code)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.Any("err", err))
		http.Error(w, "code exchange failed", 502)
		return
	}
	user, err := h.helix.GetTokenOwner(ctx, tok.AccessToken)
	if err != nil {
		slog.Error("token owner lookup failed", slog.Any("err", err))
		http.Error(w, "user lookup failed", 502)
		return
	}
	if err := dbpkg.UpsertUser(ctx, h.db, user.ID, user.Login, user.DisplayName); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := h.toks.StoreTokens(ctx, user.ID, &tokens.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        h.cfg.TwitchScopes,
		TokenType:    tok.TokenType,
	}); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	// First login creates the broadcaster's overlay with the default prefix.
	ov, err := dbpkg.GetOverlayByOwner(ctx, h.db, user.ID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if ov == nil {
		ov, err = dbpkg.CreateOverlay(ctx, h.db, user.ID, user.DisplayName, "!")
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"login":      user.Login,
		"overlay_id": ov.ID,
	}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
