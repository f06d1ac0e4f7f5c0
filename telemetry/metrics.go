// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Subscriptions     prometheus.Counter
	BroadcastMessages prometheus.Counter
	BroadcastDropped  prometheus.Counter
	CommandsHandled   prometheus.Counter
	TokenRefreshes    prometheus.Counter
	WebhookEvents     prometheus.Counter

	// Histograms
	BroadcastFanout prometheus.Observer

	// Gauges
	OpenConnections prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Subscriptions = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_overlay_subscriptions_total", Help: "Number of successful overlay subscriptions"})
		BroadcastMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_broadcast_messages_total", Help: "Number of messages delivered to overlay connections"})
		BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_broadcast_dropped_total", Help: "Number of messages skipped because the connection was not open"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_chat_commands_total", Help: "Number of chat commands dispatched"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_token_refreshes_total", Help: "Number of OAuth refresh exchanges performed"})
		WebhookEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "clipify_webhook_events_total", Help: "Number of EventSub notifications accepted"})
		BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clipify_broadcast_fanout_connections", Help: "Connections reached per broadcast call", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
		OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "clipify_overlay_open_connections", Help: "Currently open overlay websocket connections"})
	})
}

// IncSubscriptions records one successful overlay subscribe.
func IncSubscriptions() {
	if Subscriptions != nil {
		Subscriptions.Inc()
	}
}

// IncBroadcast records delivered and skipped sends for one broadcast call.
func IncBroadcast(delivered, dropped int) {
	if BroadcastMessages != nil {
		BroadcastMessages.Add(float64(delivered))
	}
	if BroadcastDropped != nil {
		BroadcastDropped.Add(float64(dropped))
	}
	if BroadcastFanout != nil {
		BroadcastFanout.Observe(float64(delivered))
	}
}

// IncCommands records one dispatched chat command.
func IncCommands() {
	if CommandsHandled != nil {
		CommandsHandled.Inc()
	}
}

// IncTokenRefresh records one OAuth refresh exchange.
func IncTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// IncWebhookEvents records one accepted EventSub notification.
func IncWebhookEvents() {
	if WebhookEvents != nil {
		WebhookEvents.Inc()
	}
}

// AddOpenConnections adjusts the open-connection gauge by delta.
func AddOpenConnections(delta int) {
	if OpenConnections != nil {
		OpenConnections.Add(float64(delta))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if corr := GetCorrelation(ctx); corr != "" {
		return slog.Default().With(slog.String("corr", corr))
	}
	return slog.Default()
}
