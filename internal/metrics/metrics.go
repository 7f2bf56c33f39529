// Package metrics provides Prometheus instrumentation for the Murmur relay
// client. It exposes a gauge for the connection state, counters for event
// routing outcomes, and the HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection state gauge values.
const (
	StateDisconnected = 0
	StateConnecting   = 1
	StateConnected    = 2
)

var (
	// ConnectionState tracks the session state machine
	// (0=disconnected, 1=connecting, 2=connected).
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "murmur_connection_state",
		Help: "Current session connection state (0=disconnected, 1=connecting, 2=connected)",
	})

	// EventsDelivered counts inbound events fanned out to subscribers,
	// labeled by wire channel.
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_events_delivered_total",
		Help: "Inbound events delivered to subscribers",
	}, []string{"channel"})

	// EventsDeduplicated counts inbound events discarded as duplicates,
	// labeled by wire channel.
	EventsDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_events_deduplicated_total",
		Help: "Inbound events discarded as duplicates",
	}, []string{"channel"})

	// EventsDropped counts events dropped by the router or sender, labeled
	// by reason: "self_echo", "not_receiver", "disconnected", "malformed".
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_events_dropped_total",
		Help: "Events dropped before delivery or transmission",
	}, []string{"reason"})

	// EventsSent counts outbound events transmitted to the relay, labeled
	// by wire channel.
	EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_events_sent_total",
		Help: "Outbound events transmitted to the relay",
	}, []string{"channel"})

	// ReconnectAttempts counts reconnect attempts triggered by sends while
	// disconnected or by transmission failures.
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_reconnect_attempts_total",
		Help: "Reconnect attempts triggered by the session",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		EventsDelivered,
		EventsDeduplicated,
		EventsDropped,
		EventsSent,
		ReconnectAttempts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
