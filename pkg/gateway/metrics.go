package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Open websocket sessions.",
	})
	sessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_closed_total",
		Help: "Closed websocket sessions by reason.",
	}, []string{"reason"})
	inboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_inbound_events_total",
		Help: "Inbound websocket events by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(sessionsActive, sessionsClosed, inboundEvents)
}
