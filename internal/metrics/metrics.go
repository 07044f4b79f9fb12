// Package metrics provides Prometheus instrumentation for the chat backend.
// It exposes gauges for connection, presence, and room counts, counters for
// relay throughput, and a histogram for fan-out publish latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "irmaverse_chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with at least one live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "irmaverse_chat_online_users",
		Help: "Current number of online users",
	})

	// OpenRooms tracks the number of conversation rooms with members.
	OpenRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "irmaverse_chat_open_rooms",
		Help: "Current number of non-empty conversation rooms",
	})

	// MessagesRelayed counts relay publishes, labeled by kind:
	// "message", "typing", or "notification".
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irmaverse_chat_messages_relayed_total",
		Help: "Total number of events published by the relay",
	}, []string{"kind"})

	// MessagesRejected counts message:send frames rejected before relaying,
	// labeled by reason: "invalid", "rate_limited", or "unauthorized".
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "irmaverse_chat_messages_rejected_total",
		Help: "Total number of message sends rejected before relay",
	}, []string{"reason"})

	// RelayPublishLatency records relay publish latency in seconds.
	RelayPublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "irmaverse_chat_relay_publish_latency_seconds",
		Help:    "Relay publish latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		OpenRooms,
		MessagesRelayed,
		MessagesRejected,
		RelayPublishLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
