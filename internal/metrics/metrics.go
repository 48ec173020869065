// Package metrics exposes prometheus collectors for the client session and
// the reference relay server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Client session metrics
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askstream_exchanges_total",
			Help: "Exchanges by outcome (submitted, complete, errored, recovered, failed)",
		},
		[]string{"outcome"},
	)

	SessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askstream_session_errors_total",
			Help: "Classified errors surfaced to the session caller",
		},
		[]string{"kind"},
	)

	StallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askstream_stalls_total",
			Help: "Answering streams that stalled and fell back to polling",
		},
	)

	FragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askstream_fragments_total",
			Help: "Answer fragments received over the socket",
		},
	)

	// Fallback poller metrics
	PollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askstream_poll_attempts_total",
			Help: "Status endpoint fetches by result (resolved, pending, failed, error)",
		},
		[]string{"result"},
	)

	// Transport metrics
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askstream_transport_reconnects_total",
			Help: "Socket reconnect attempts",
		},
	)

	HeartbeatFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "askstream_transport_heartbeat_failures_total",
			Help: "Heartbeat pings that failed to send",
		},
	)

	// Relay server metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askstream_relay_connections",
			Help: "Open relay websocket connections",
		},
	)

	RelayQuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askstream_relay_questions_total",
			Help: "Questions handled by the relay by result",
		},
		[]string{"result"},
	)
)
