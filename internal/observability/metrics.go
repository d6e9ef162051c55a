package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total client connections that reached ACTIVE and joined the pool.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Currently pooled client connections.",
		},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "auth_failures_total",
			Help:      "Connections refused during the password handshake.",
		},
	)
	broadcastSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "broadcast_sends_total",
			Help:      "Successful per-connection sends across all broadcasts.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connectionsTotal, activeConnections, authFailures, broadcastSends)
	})
}

func RecordConnection() {
	connectionsTotal.Inc()
	activeConnections.Inc()
}

func RecordDisconnection() {
	activeConnections.Dec()
}

func RecordAuthFailure() {
	authFailures.Inc()
}

func RecordBroadcast(sent int) {
	broadcastSends.Add(float64(sent))
}
