// Package tokens manages per-user OAuth token pairs: lookup, transparent
// decryption, and refresh-on-expiry with per-user deduplication. Plaintext
// token material only ever exists in memory here; the db layer stores
// ciphertext envelopes bound to the owning user.
package tokens

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TheDanniCraft/clipify-sub000/crypto"
	"github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/telemetry"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

// Token is a decrypted, usable token pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	TokenType    string
}

// Store abstracts the persisted token records so the manager can be tested
// against an in-memory implementation.
type Store interface {
	GetTokenRecord(ctx context.Context, userID string) (*db.TokenRecord, error)
	UpsertTokenRecord(ctx context.Context, rec *db.TokenRecord) error
	DeleteTokenRecord(ctx context.Context, userID string) error
	ListExpiringTokens(ctx context.Context, window time.Duration) ([]string, error)
}

// Refresher performs the provider refresh exchange.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*twitchapi.RefreshResult, error)
}

// SQLStore adapts a *sql.DB to the Store interface.
type SQLStore struct{ DB *sql.DB }

func (s *SQLStore) GetTokenRecord(ctx context.Context, userID string) (*db.TokenRecord, error) {
	return db.GetTokenRecord(ctx, s.DB, userID)
}
func (s *SQLStore) UpsertTokenRecord(ctx context.Context, rec *db.TokenRecord) error {
	return db.UpsertTokenRecord(ctx, s.DB, rec)
}
func (s *SQLStore) DeleteTokenRecord(ctx context.Context, userID string) error {
	return db.DeleteTokenRecord(ctx, s.DB, userID)
}
func (s *SQLStore) ListExpiringTokens(ctx context.Context, window time.Duration) ([]string, error) {
	return db.ListExpiringTokens(ctx, s.DB, window)
}

// Manager looks up, decrypts, and transparently refreshes token pairs.
type Manager struct {
	store  Store
	cipher crypto.Cipher
	oauth  Refresher

	// refreshes for the same user are collapsed into one exchange; without
	// this, the provider may invalidate the first refresh token the moment
	// the second exchange lands.
	sf singleflight.Group

	now func() time.Time
}

// NewManager wires a Manager from its collaborators.
func NewManager(store Store, cipher crypto.Cipher, oauth Refresher) *Manager {
	return &Manager{store: store, cipher: cipher, oauth: oauth, now: time.Now}
}

// GetAccessToken returns a usable token pair for a user.
//
// Returns (nil, nil) when the user must re-authenticate: no record exists,
// the stored ciphertext no longer decrypts, or the refresh exchange was
// rejected. Returns a non-nil error only for infrastructure failures
// (store or network), so callers can tell "log in again" from "try later".
func (m *Manager) GetAccessToken(ctx context.Context, userID string) (*Token, error) {
	rec, err := m.store.GetTokenRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	aad := crypto.TokenAAD(userID)
	access, aerr := m.cipher.Decrypt(rec.AccessToken, aad)
	refresh, rerr := m.cipher.Decrypt(rec.RefreshToken, aad)
	if aerr != nil || rerr != nil {
		// Unrecoverable for this record: drop it so the user is sent back
		// through the OAuth flow instead of looping on a dead ciphertext.
		slog.Warn("token decrypt failed, forcing re-auth", slog.String("user_id", userID))
		if derr := m.store.DeleteTokenRecord(ctx, userID); derr != nil {
			slog.Warn("failed to delete undecryptable token record", slog.String("user_id", userID), slog.Any("err", derr))
		}
		return nil, nil
	}

	if m.now().After(rec.ExpiresAt) {
		return m.refresh(ctx, userID, refresh)
	}

	return &Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    rec.ExpiresAt,
		Scope:        rec.Scope,
		TokenType:    rec.TokenType,
	}, nil
}

// refresh performs one deduplicated refresh exchange for a user and persists
// the re-encrypted result. Returns (nil, nil) when the provider rejects the
// refresh token.
func (m *Manager) refresh(ctx context.Context, userID, refreshToken string) (*Token, error) {
	v, err, _ := m.sf.Do(userID, func() (any, error) {
		res, err := m.oauth.Refresh(ctx, refreshToken)
		if err != nil {
			slog.Warn("token refresh rejected", slog.String("user_id", userID), slog.Any("err", err))
			return (*Token)(nil), nil
		}
		telemetry.IncTokenRefresh()

		newRefresh := res.RefreshToken
		if newRefresh == "" {
			newRefresh = refreshToken
		}
		tok := &Token{
			AccessToken:  res.AccessToken,
			RefreshToken: newRefresh,
			ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
			Scope:        joinScope(res.Scope),
			TokenType:    res.TokenType,
		}
		if err := m.persist(ctx, userID, tok); err != nil {
			return nil, err
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

func (m *Manager) persist(ctx context.Context, userID string, tok *Token) error {
	aad := crypto.TokenAAD(userID)
	accessCT, err := m.cipher.Encrypt(tok.AccessToken, aad)
	if err != nil {
		return err
	}
	refreshCT, err := m.cipher.Encrypt(tok.RefreshToken, aad)
	if err != nil {
		return err
	}
	return m.store.UpsertTokenRecord(ctx, &db.TokenRecord{
		UserID:       userID,
		AccessToken:  accessCT,
		RefreshToken: refreshCT,
		ExpiresAt:    tok.ExpiresAt,
		Scope:        tok.Scope,
		TokenType:    tok.TokenType,
	})
}

// StoreTokens encrypts and persists a freshly issued pair, e.g. after the
// OAuth callback exchange.
func (m *Manager) StoreTokens(ctx context.Context, userID string, tok *Token) error {
	return m.persist(ctx, userID, tok)
}

func joinScope(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
