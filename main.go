// Command clipify is the main entrypoint for the clip overlay backend.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the overlay websocket hub, the chat command bot, and the
//     background OAuth token refresher.
//   - Exposes the HTTP server: /ws, OAuth flow, EventSub webhook, health,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/TheDanniCraft/clipify-sub000/chat"
	"github.com/TheDanniCraft/clipify-sub000/config"
	"github.com/TheDanniCraft/clipify-sub000/crypto"
	"github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/overlay"
	"github.com/TheDanniCraft/clipify-sub000/server"
	"github.com/TheDanniCraft/clipify-sub000/telemetry"
	"github.com/TheDanniCraft/clipify-sub000/tokens"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("clipify", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Token cipher; without it user tokens can neither be stored nor read.
	cipher, err := crypto.NewAESCipher(cfg.EncryptionKey)
	if err != nil {
		slog.Error("encryption key invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// DB
	database, err := db.ConnectDSN(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Twitch API clients. The app token source backs Helix lookups; the
	// OAuth client handles user token refresh.
	appTokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	helix := &twitchapi.HelixClient{AppTokenSource: appTokens, ClientID: cfg.TwitchClientID}
	oauthClient := &twitchapi.OAuthClient{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}

	// Best-effort app token warmup so the first Helix call doesn't pay for it.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		warmCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := appTokens.Get(warmCtx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

	// Token manager + background refresh sweep
	manager := tokens.NewManager(&tokens.SQLStore{DB: database}, cipher, oauthClient)
	tokens.StartRefresher(ctx, manager, 5*time.Minute, 15*time.Minute)

	// Overlay websocket hub
	hub := overlay.NewHub(&overlay.SQLLookup{DB: database}, cfg.SubscribeTimeout, cfg.HeartbeatInterval)
	go hub.Run(ctx)

	// Chat command bot (no-op when bot credentials are missing)
	go chat.StartBot(ctx, cfg, database, hub, helix)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	handlers := server.NewHandlers(ctx, database, cfg, hub, manager, helix)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
