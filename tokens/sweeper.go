package tokens

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/TheDanniCraft/clipify-sub000/crypto"
)

// StartRefresher launches a goroutine that periodically scans for token
// records entering the expiry window and refreshes them proactively through
// the manager's deduplicated refresh path. Proactive refresh keeps chat
// commands and webhook handling from paying the exchange round-trip on their
// own critical path.
//
// interval: how often to wake up and scan.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, m *Manager, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			sweepOnce(ctx, m, window)
		}
	}()
}

func sweepOnce(ctx context.Context, m *Manager, window time.Duration) {
	ids, err := m.store.ListExpiringTokens(ctx, window)
	if err != nil {
		slog.Warn("token sweep query failed", slog.Any("err", err))
		return
	}
	for _, userID := range ids {
		sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		// GetAccessToken refreshes records already past expiry. For records
		// merely inside the window, force the exchange early.
		rec, err := m.store.GetTokenRecord(sctx, userID)
		if err != nil || rec == nil {
			cancel()
			continue
		}
		refresh, derr := m.cipher.Decrypt(rec.RefreshToken, crypto.TokenAAD(userID))
		if derr != nil {
			cancel()
			continue
		}
		tok, err := m.refresh(sctx, userID, refresh)
		switch {
		case err != nil:
			slog.Warn("proactive token refresh failed", slog.String("user_id", userID), slog.Any("err", err))
		case tok == nil:
			// Rejected by the provider; the user has to re-authenticate.
		default:
			slog.Info("token refreshed", slog.String("user_id", userID))
		}
		cancel()
	}
}
