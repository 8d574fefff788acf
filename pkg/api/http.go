package api

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/api/router"
	"github.com/iam-i-j-k/backend/pkg/api/routes"
)

var (
	gcPauseTotal = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.PauseTotalNs)
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(gcPauseTotal)
	prometheus.MustRegister(heapAlloc)
}

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// Deps are the handlers the router serves.
type Deps struct {
	Handlers  *routes.Handlers
	Websocket fasthttp.RequestHandler
	Healthz   fasthttp.RequestHandler
	Readyz    fasthttp.RequestHandler
}

// RegisterRoutes wires all API routes onto the provided router.
func RegisterRoutes(r *router.Router, d Deps) {
	// probes and metrics
	r.GET("/healthz", d.Healthz)
	r.GET("/readyz", d.Readyz)
	r.GET("/metrics", wrapHTTPHandler(promhttp.Handler()))

	// realtime
	r.GET("/ws", d.Websocket)

	// chats
	r.GET("/v1/chats/{userId}/messages", d.Handlers.ChatHistory)
	r.DELETE("/v1/chats/{userId}", d.Handlers.ClearChat)

	// connections
	r.POST("/v1/connections", d.Handlers.RequestConnection)
	r.GET("/v1/connections/pending", d.Handlers.PendingConnections)
	r.GET("/v1/connections/matches", d.Handlers.MatchedConnections)
	r.GET("/v1/connections/status/{userId}", d.Handlers.ConnectionStatus)
	r.POST("/v1/connections/{id}/accept", d.Handlers.AcceptConnection)
	r.POST("/v1/connections/{id}/decline", d.Handlers.DeclineConnection)
	r.DELETE("/v1/connections/{id}", d.Handlers.RemoveConnection)
}

// Handler returns the full HTTP handler: routes behind the auth middleware.
func Handler(d Deps, mw *auth.Middleware) fasthttp.RequestHandler {
	r := router.New()
	RegisterRoutes(r, d)
	return mw.Wrap(r.Handler)
}
