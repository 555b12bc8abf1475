package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the Lookout broker
type Metrics struct {
	// Presence metrics
	Connections     *prometheus.GaugeVec
	OnlineProducers *prometheus.GaugeVec
	ActiveSessions  *prometheus.GaugeVec

	// Message flow metrics
	MessagesReceived *prometheus.CounterVec
	SignalsForwarded *prometheus.CounterVec
	ForwardLatency   *prometheus.HistogramVec
	ErrorsSent       *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec

	// Lifecycle metrics
	SessionsStarted   *prometheus.CounterVec
	SessionsEnded     *prometheus.CounterVec
	HeartbeatTimeouts *prometheus.CounterVec
	CrewEvents        *prometheus.CounterVec
}
