package broker

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_published_total",
		Help: "Events published through the broker.",
	})
	receivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_received_total",
		Help: "Events received from broker subscriptions.",
	})
	degradedDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_degraded_deliveries_total",
		Help: "Events delivered to local sessions only because the broker was unavailable.",
	})
	circuitDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_circuit_degraded",
		Help: "1 while the broker circuit is degraded.",
	})
	activeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_subscriptions",
		Help: "User channels this process listens on.",
	})
)

func init() {
	prometheus.MustRegister(publishedTotal, receivedTotal, degradedDeliveries, circuitDegraded, activeSubscriptions)
}
