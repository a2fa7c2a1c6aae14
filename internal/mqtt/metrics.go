package mqtt

import "github.com/prometheus/client_golang/prometheus"

var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "twinhub",
		Subsystem: "mqtt",
		Name:      "messages_total",
		Help:      "MQTT messages by direction (in, out) and result.",
	},
	[]string{"direction", "result"},
)

func init() {
	prometheus.MustRegister(messagesTotal)
}
