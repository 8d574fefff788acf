// Package gateway adapts websocket sessions to the chat and connection
// engines.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/api/router"
	"github.com/iam-i-j-k/backend/pkg/api/utils"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// Options tunes sessions. Zero values take the defaults.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	SendBuffer     int
	MaxFrameSize   int64
	EventRPS       float64
	EventBurst     int
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 64 << 10
	}
	if o.EventRPS > 0 && o.EventBurst <= 0 {
		o.EventBurst = int(o.EventRPS)
		if o.EventBurst < 1 {
			o.EventBurst = 1
		}
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Gateway upgrades HTTP requests to websocket sessions and tracks them for
// shutdown.
type Gateway struct {
	opts     Options
	d        *Dispatcher
	upgrader websocket.FastHTTPUpgrader

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

func New(d *Dispatcher, opts Options) *Gateway {
	opts = opts.withDefaults()
	g := &Gateway{
		opts:     opts,
		d:        d,
		sessions: make(map[string]*Session),
	}
	g.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := utils.GetHeader(ctx, "Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	return auth.OriginAllowed(origin, g.opts.AllowedOrigins)
}

// Handler serves GET /ws?userId=..&signature=.. . With signing keys
// configured the signature must verify and the session may only join as
// that user.
func (g *Gateway) Handler(ctx *fasthttp.RequestCtx) {
	userID := utils.GetQuery(ctx, "userId")
	sig := utils.GetQuery(ctx, "signature")
	if auth.SigningEnabled() || userID != "" {
		if ierr := auth.VerifyIdentity(userID, sig); ierr != nil {
			logger.Warn("ws_handshake_rejected", "user", userID, "remote", ctx.RemoteAddr().String(), "reason", ierr.Message)
			router.WriteJSONError(ctx, ierr.Code, ierr.Message)
			return
		}
	}

	g.mu.Lock()
	closing := g.closing
	g.mu.Unlock()
	if closing {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "shutting down")
		return
	}

	err := g.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		s := newSession(conn, g.opts, userID)
		if !g.track(s) {
			_ = conn.Close()
			return
		}
		defer g.untrack(s)
		g.serve(s)
	})
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", ctx.RemoteAddr().String(), "error", err)
	}
}

// serve runs one session to completion.
func (g *Gateway) serve(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionsActive.Inc()
	logger.Info("session_opened", "session", s.ID(), "claimed_user", s.expectedUser)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump()
	}()
	s.readPump(ctx, g.d)
	<-done

	g.d.Leave(ctx, s)
	_ = s.conn.Close()
	sessionsActive.Dec()
	sessionsClosed.WithLabelValues(s.reason).Inc()
	logger.Info("session_closed", "session", s.ID(), "user", s.UserID(), "reason", s.reason)
}

func (g *Gateway) track(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s.ID()] = s
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.ID())
	g.mu.Unlock()
	g.wg.Done()
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown stops accepting sessions, closes the open ones and waits for them
// to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	open := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	for _, s := range open {
		s.Close(reasonShutdown)
	}
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("gateway_drained", "sessions", len(open))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
