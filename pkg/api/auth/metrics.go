package auth

import "github.com/prometheus/client_golang/prometheus"

var requestsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_rejected_total",
	Help: "Requests refused by the middleware, by reason.",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(requestsRejected)
}
