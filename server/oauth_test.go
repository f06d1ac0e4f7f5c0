package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/TheDanniCraft/clipify-sub000/config"
	"github.com/TheDanniCraft/clipify-sub000/crypto"
	dbpkg "github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/testutil"
	"github.com/TheDanniCraft/clipify-sub000/tokens"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

func oauthTestConfig() *config.Config {
	return &config.Config{
		TwitchClientID:     "cid",
		TwitchClientSecret: "secret",
		TwitchRedirectURI:  "https://clipify.test/auth/twitch/callback",
		TwitchScopes:       "clips:edit channel:read:redemptions",
	}
}

func TestOAuthStart_RedirectsWithState(t *testing.T) {
	h := NewHandlers(context.Background(), nil, oauthTestConfig(), nil, nil, nil)
	h.authBase = "https://id.example.test"

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	rec := httptest.NewRecorder()
	h.HandleOAuthStart(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad location: %v", err)
	}
	if loc.Path != "/oauth2/authorize" {
		t.Errorf("redirect path = %q", loc.Path)
	}
	q := loc.Query()
	if q.Get("client_id") != "cid" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("no state in redirect")
	}
	if !h.consumeOAuthState(state) {
		t.Error("issued state not stored")
	}
}

func TestOAuthStart_Unconfigured(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.HandleOAuthStart(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOAuthCallback_RejectsBadState(t *testing.T) {
	h := NewHandlers(context.Background(), nil, oauthTestConfig(), nil, nil, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"missing params", ""},
		{"unknown state", "code=abc&state=never-issued"},
		{"missing code", "state=whatever"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleOAuthCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?"+tt.query, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestOAuthCallback_StateIsSingleUse(t *testing.T) {
	h := NewHandlers(context.Background(), nil, oauthTestConfig(), nil, nil, nil)
	h.addOAuthState("st1", time.Now().Add(time.Minute))

	if !h.consumeOAuthState("st1") {
		t.Fatal("first consume failed")
	}
	if h.consumeOAuthState("st1") {
		t.Error("state consumed twice")
	}
}

func TestOAuthCallback_ExpiredState(t *testing.T) {
	h := NewHandlers(context.Background(), nil, oauthTestConfig(), nil, nil, nil)
	h.addOAuthState("st1", time.Now().Add(-time.Minute))
	if h.consumeOAuthState("st1") {
		t.Error("expired state accepted")
	}
}

// Full callback flow against the mock Twitch server and a real database.
func TestOAuthCallback_PersistsTokensAndCreatesOverlay(t *testing.T) {
	database := testutil.SetupTestDB(t)
	mock := testutil.NewMockTwitchServer(t)
	mock.MockRefresh("user-access", "user-refresh", 3600, []string{"clips:edit"})
	mock.MockUserResponse("u100", "streamer")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := crypto.NewAESCipher(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}
	cfg := oauthTestConfig()
	mgr := tokens.NewManager(&tokens.SQLStore{DB: database}, cipher, &twitchapi.OAuthClient{
		ClientID: "cid", ClientSecret: "secret", AuthBase: mock.URL,
	})
	helix := &twitchapi.HelixClient{ClientID: "cid", HelixBase: mock.URL}

	h := NewHandlers(context.Background(), database, cfg, nil, mgr, helix)
	h.authBase = mock.URL
	h.addOAuthState("st1", time.Now().Add(time.Minute))

	rec := httptest.NewRecorder()
	h.HandleOAuthCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=abc&state=st1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status    string `json:"status"`
		Login     string `json:"login"`
		OverlayID string `json:"overlay_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Login != "streamer" || resp.OverlayID == "" {
		t.Errorf("response = %+v", resp)
	}

	rec2, err := dbpkg.GetTokenRecord(context.Background(), database, "u100")
	if err != nil || rec2 == nil {
		t.Fatalf("token record = %v, err %v", rec2, err)
	}
	if rec2.AccessToken == "user-access" {
		t.Error("access token stored as plaintext")
	}

	ov, err := dbpkg.GetOverlay(context.Background(), database, resp.OverlayID)
	if err != nil || ov == nil {
		t.Fatalf("overlay = %v, err %v", ov, err)
	}
	if ov.OwnerID != "u100" || ov.CommandPrefix != "!" {
		t.Errorf("overlay = %+v", ov)
	}
}
