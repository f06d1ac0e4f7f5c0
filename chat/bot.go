package chat

import (
	"context"
	"database/sql"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/TheDanniCraft/clipify-sub000/config"
	"github.com/TheDanniCraft/clipify-sub000/db"
)

// sqlQueueStore adapts *sql.DB to QueueStore.
type sqlQueueStore struct{ db *sql.DB }

func (s *sqlQueueStore) EnqueueClip(ctx context.Context, c *db.QueuedClip) (int64, error) {
	return db.EnqueueClip(ctx, s.db, c)
}
func (s *sqlQueueStore) ListQueue(ctx context.Context, broadcasterID, status string, limit int) ([]db.QueuedClip, error) {
	return db.ListQueue(ctx, s.db, broadcasterID, status, limit)
}
func (s *sqlQueueStore) ClearQueue(ctx context.Context, broadcasterID string) (int64, error) {
	return db.ClearQueue(ctx, s.db, broadcasterID)
}

// sqlPrefixLookup adapts *sql.DB to PrefixLookup.
type sqlPrefixLookup struct{ db *sql.DB }

func (s *sqlPrefixLookup) GetCommandPrefix(ctx context.Context, broadcasterID string) (string, error) {
	return db.GetCommandPrefix(ctx, s.db, broadcasterID)
}

// NewSQLQueueStore returns a QueueStore over a live database handle.
func NewSQLQueueStore(database *sql.DB) QueueStore { return &sqlQueueStore{db: database} }

// NewSQLPrefixLookup returns a PrefixLookup over a live database handle.
func NewSQLPrefixLookup(database *sql.DB) PrefixLookup { return &sqlPrefixLookup{db: database} }

// StartBot joins the configured channels with the bot account and routes
// command messages until ctx is cancelled. Blocks for the lifetime of the
// IRC connection; run it in a goroutine.
func StartBot(ctx context.Context, cfg *config.Config, database *sql.DB, b Broadcaster, clips ClipResolver) {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat bot disabled", slog.Any("reason", err))
		return
	}

	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchBotToken)
	router := NewRouter(b, clips, NewSQLQueueStore(database), NewSQLPrefixLookup(database), client.Say)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		// RoomID is the channel owner's user id; it keys prefix lookup,
		// queue mutation, and overlay broadcasts.
		broadcasterID := msg.RoomID
		if broadcasterID == "" {
			return
		}
		prefix, ok := router.IsCommand(ctx, broadcasterID, msg.Message)
		if !ok {
			return
		}
		router.HandleCommand(ctx, broadcasterID, msg.Channel, msg.User.Name, msg.Message, prefix)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	for _, ch := range cfg.TwitchChannels {
		client.Join(ch)
	}
	slog.Info("chat bot connecting", slog.Any("channels", cfg.TwitchChannels))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
