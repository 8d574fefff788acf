package app

import (
	"encoding/json"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api"
	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/api/routes"
	"github.com/iam-i-j-k/backend/pkg/config/banner"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, ver)
}

func writeStatus(ctx *fasthttp.RequestCtx, code int, body map[string]interface{}) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(body)
}

// healthzHandlerFast answers liveness probes.
func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	writeStatus(ctx, fasthttp.StatusOK, map[string]interface{}{"status": "ok"})
}

// readyzHandlerFast reports not ready while the store is closed. A degraded
// broker still serves local sessions so it is reported but stays ready.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	if !a.store.Ready() {
		writeStatus(ctx, fasthttp.StatusServiceUnavailable, map[string]interface{}{"status": "not ready"})
		return
	}
	brokerState := "ok"
	if a.bridge.Degraded() {
		brokerState = "degraded"
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	writeStatus(ctx, fasthttp.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  ver,
		"broker":   brokerState,
		"sessions": a.gateway.SessionCount(),
	})
}

// handler builds the routed and middleware-wrapped request handler.
func (a *App) handler() fasthttp.RequestHandler {
	cfg := a.eff.Config
	a.mw = auth.NewMiddleware(auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Server.CORS.AllowedOrigins...),
		RPS:            cfg.Server.RateLimit.RPS,
		Burst:          cfg.Server.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Server.IPWhitelist...),
	})
	return api.Handler(api.Deps{
		Handlers:  &routes.Handlers{Chat: a.chat, Conns: a.conns},
		Websocket: a.gateway.Handler,
		Healthz:   a.healthzHandlerFast,
		Readyz:    a.readyzHandlerFast,
	}, a.mw)
}

// serve starts the fasthttp server on ln, returning a channel that delivers
// its exit error.
func (a *App) serve(ln net.Listener) <-chan error {
	const (
		readBufferSize       = 64 * 1024
		readTimeout          = 10 * time.Second
		writeTimeout         = 10 * time.Second
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Handler:              a.handler(),
		Name:                 "skillswap",
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   int(a.eff.Config.Server.MaxRequestBody.Int64()),
		ReduceMemoryUsage:    true,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}
	errCh := make(chan error, 1)
	srv := a.srvFast
	go func() {
		errCh <- srv.Serve(ln)
	}()
	return errCh
}
