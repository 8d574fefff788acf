package auth

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api/router"
	"github.com/iam-i-j-k/backend/pkg/api/utils"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// security config
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
}

// Middleware wraps handlers with CORS, the IP whitelist, per-client rate
// limiting and identity verification.
type Middleware struct {
	cfg      SecConfig
	limiters *limiterPool
}

func NewMiddleware(cfg SecConfig) *Middleware {
	return &Middleware{cfg: cfg, limiters: newLimiterPool(cfg.RPS, cfg.Burst)}
}

// Shutdown stops background limiter cleanup.
func (m *Middleware) Shutdown() {
	m.limiters.Shutdown()
}

func (m *Middleware) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	cfg := m.cfg
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		// cors headers and handle options shortcut
		origin := utils.GetHeader(ctx, "Origin")
		if origin != "" && OriginAllowed(origin, cfg.AllowedOrigins) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			ctx.Response.Header.Set("Access-Control-Max-Age", "600")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-User-Signature")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		// ip whitelist check (always before all other checks except cors/options)
		ip := clientIPFast(ctx)
		if len(cfg.IPWhitelist) > 0 && !ipWhitelisted(ip, cfg.IPWhitelist) {
			requestsRejected.WithLabelValues("ip_not_whitelisted").Inc()
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
			logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", utils.GetPath(ctx))
			return
		}

		if publicAllowedPath(ctx) {
			next(ctx)
			return
		}

		// rate limiting per claimed user, falling back to the client ip
		key := utils.GetUserID(ctx)
		if key == "" {
			key = ip
		}
		if !m.limiters.Allow(key) {
			requestsRejected.WithLabelValues("rate_limited").Inc()
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "key", key, "path", utils.GetPath(ctx))
			return
		}

		// the websocket handshake carries its identity in the query
		if utils.GetPath(ctx) == "/ws" {
			next(ctx)
			return
		}

		userID := utils.GetUserID(ctx)
		if ierr := VerifyIdentity(userID, utils.GetUserSignature(ctx)); ierr != nil {
			logger.Warn("request_unauthorized", "reason", ierr.Message, "user", userID, "remote", ctx.RemoteAddr().String(), "path", utils.GetPath(ctx))
			requestsRejected.WithLabelValues("unauthorized").Inc()
			router.WriteJSONError(ctx, ierr.Code, ierr.Message)
			return
		}
		ctx.SetUserValue(userValueKey, userID)
		next(ctx)
	}
}

func clientIPFast(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

// OriginAllowed reports whether origin matches the allow list. "*" matches
// everything.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

func publicAllowedPath(ctx *fasthttp.RequestCtx) bool {
	path := utils.GetPath(ctx)
	method := string(ctx.Method())

	if (path == "/healthz" || path == "/readyz" || path == "/metrics") && method == fasthttp.MethodGet {
		return true
	}

	return false
}
