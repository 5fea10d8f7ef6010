package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the stranger-chat signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: roulette (application-level grouping)
// - subsystem: websocket, matchmaking, room, signaling
//
// Gauges track current state (connections, tokens, waiters, rooms); counters
// track cumulative events (frames routed, matches made, relays forwarded);
// the histogram tracks frame processing latency.

var (
	// ActiveConnections tracks the current number of attached sockets.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roulette",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of attached WebSocket connections",
	})

	// ActiveTokens tracks the number of live identity tokens, attached or idle.
	ActiveTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roulette",
		Subsystem: "matchmaking",
		Name:      "tokens_active",
		Help:      "Current number of live identity tokens",
	})

	// WaitingUsers tracks the current size of the matchmaking waiting set.
	WaitingUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roulette",
		Subsystem: "matchmaking",
		Name:      "waiting_users",
		Help:      "Current number of users waiting to be paired",
	})

	// ActiveRooms tracks the current number of pair-rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roulette",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active pair-rooms",
	})

	// MatchesTotal counts completed pairings.
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "matchmaking",
		Name:      "matches_total",
		Help:      "Total pairings completed",
	})

	// StaleWaitersSkipped counts queue heads dropped because their socket was gone.
	StaleWaitersSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "matchmaking",
		Name:      "stale_waiters_skipped_total",
		Help:      "Queue entries popped whose owner was no longer live",
	})

	// WebsocketEvents counts routed frames by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// RelayFrames counts forwarded signaling frames by kind and outcome.
	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "signaling",
		Name:      "relay_frames_total",
		Help:      "Signaling frames relayed between room members",
	}, []string{"kind", "status"})

	// RoomsReaped counts room deletions by cause.
	RoomsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "room",
		Name:      "reaped_total",
		Help:      "Rooms deleted, by cause (skip, grace_expired, age_cap, shutdown)",
	}, []string{"cause"})

	// MessageProcessingDuration tracks time spent handling a single frame.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roulette",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// RateLimitExceeded counts rejected connection attempts.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Connection attempts rejected by the rate limiter",
	}, []string{"limit_type"})

	// CircuitBreakerState exposes the ops-bus breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roulette",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per dependency",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts publishes dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roulette",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations dropped because the circuit breaker was open",
	}, []string{"dependency"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
