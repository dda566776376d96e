package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "resq_relay", Name: "sessions_connected", Help: "Currently connected sessions per role"},
		[]string{"role"},
	)
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "envelopes_received_total", Help: "Inbound envelopes accepted for handling, by type"},
		[]string{"type"},
	)
	EnvelopesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "envelopes_dispatched_total", Help: "Outbound envelopes queued to sessions, by type"},
		[]string{"type"},
	)
	AcceptConflicts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "accept_conflicts_total", Help: "accept_request attempts rejected because a responder already won"},
	)
	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "protocol_errors_total", Help: "Envelopes discarded for schema or routing violations"},
	)
	SlowSessionDrops = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "slow_session_drops_total", Help: "Sessions disconnected because their send queue filled"},
	)
	BroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "resq_relay",
			Name:      "broadcast_fanout_sessions",
			Help:      "Number of sessions reached per broadcast",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "resq_relay", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resq_relay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
