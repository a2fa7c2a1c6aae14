package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "twinhub",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections by role.",
		},
		[]string{"role"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinhub",
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Sensor frames accepted by type.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinhub",
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by reason (rate_limited, invalid, buffer_full).",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, framesReceived, framesDropped)
}
