// Package twitchapi contains minimal helpers to interact with Twitch OAuth and
// Helix APIs: app token acquisition, user OAuth code/refresh exchange, user and
// clip lookup, and chat message sending.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultHelixBase is the production Helix API host.
const DefaultHelixBase = "https://api.twitch.tv/helix"

// HelixClient provides the methods Clipify needs from Helix.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	HelixBase      string // override for tests; DefaultHelixBase when empty
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.HelixBase != "" {
		return hc.HelixBase
	}
	return DefaultHelixBase
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUser resolves a login name to its user record. Returns (nil, nil) when
// the login does not exist.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, "/users?login="+login, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetTokenOwner resolves the user a user access token belongs to. Helix
// returns the token's own user when /users is called without parameters.
func (hc *HelixClient) GetTokenOwner(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("accessToken empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix token owner lookup failed: %s", resp.Status)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("helix token owner lookup returned no user")
	}
	return &body.Data[0], nil
}

// Clip is a Helix clip record, trimmed to the fields the queue and overlay use.
type Clip struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	Title           string    `json:"title"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	Duration        float64   `json:"duration"`
}

// GetClip fetches a clip by its slug. Returns (nil, nil) when the clip does
// not exist.
func (hc *HelixClient) GetClip(ctx context.Context, clipID string) (*Clip, error) {
	if clipID == "" {
		return nil, fmt.Errorf("clipID empty")
	}
	var body struct {
		Data []Clip `json:"data"`
	}
	if err := hc.get(ctx, "/clips?id="+clipID, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// SendChatMessage posts a message to a broadcaster's chat via the Helix chat
// endpoint. senderID must be the bot's user id; the app token must carry the
// user:bot grant for it.
func (hc *HelixClient) SendChatMessage(ctx context.Context, broadcasterID, senderID, message string) error {
	if broadcasterID == "" || message == "" {
		return fmt.Errorf("broadcasterID or message empty")
	}
	payload, err := json.Marshal(map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        message,
	})
	if err != nil {
		return err
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+"/chat/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("helix chat send failed: %s", resp.Status)
	}
	return nil
}

func (hc *HelixClient) get(ctx context.Context, path string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix request failed: %s %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
