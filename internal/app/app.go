// Package app wires the store, broker bridge, engines, websocket gateway and
// REST surface into one process.
package app

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/internal/retention"
	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/broker"
	"github.com/iam-i-j-k/backend/pkg/chat"
	"github.com/iam-i-j-k/backend/pkg/config"
	"github.com/iam-i-j-k/backend/pkg/connections"
	"github.com/iam-i-j-k/backend/pkg/gateway"
	"github.com/iam-i-j-k/backend/pkg/presence"
	"github.com/iam-i-j-k/backend/pkg/state"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	paths     state.Paths
	version   string
	commit    string
	buildDate string

	store     *store.Store
	registry  *presence.Registry
	broker    broker.Broker
	bridge    *broker.Bridge
	chat      *chat.Engine
	conns     *connections.Machine
	gateway   *gateway.Gateway
	mw        *auth.Middleware
	retention *retention.Manager

	retentionCancel context.CancelFunc
	srvFast         *fasthttp.Server
	state           atomic.Value
}

// New validates eff and builds every component. Nothing listens until Run.
func New(eff config.EffectiveConfigResult, paths state.Paths, version, commit, buildDate string) (*App, error) {
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	config.SetRuntime(config.NewRuntime(cfg))

	if cfg.Logging.Audit {
		if err := logger.AttachAuditFileSink(paths.Audit); err != nil {
			return nil, fmt.Errorf("attach audit sink: %w", err)
		}
	}

	st, err := store.Open(paths.Store, store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
	}

	a := &App{
		eff:       eff,
		paths:     paths,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		registry:  presence.NewRegistry(),
	}
	a.state.Store("initialized")

	a.broker = newBroker(cfg.Broker)
	a.bridge = broker.NewBridge(a.broker, a.registry, broker.Options{
		Prefix:         cfg.Broker.ChannelPrefix,
		PublishTimeout: cfg.Broker.PublishTimeout.Duration(),
		ProbeInterval:  cfg.Broker.ProbeInterval.Duration(),
	})
	a.chat = chat.NewEngine(st, a.bridge)
	a.conns = connections.NewMachine(st, a.bridge)

	g := cfg.Gateway
	a.gateway = gateway.New(gateway.NewDispatcher(a.chat, a.conns, a.registry, a.bridge), gateway.Options{
		WriteWait:      g.WriteWait.Duration(),
		PongWait:       g.PongWait.Duration(),
		SendBuffer:     g.SendBuffer,
		MaxFrameSize:   g.MaxFrameSize.Int64(),
		EventRPS:       g.EventRPS,
		EventBurst:     g.EventBurst,
		AllowedOrigins: append([]string{}, cfg.Server.CORS.AllowedOrigins...),
	})
	a.retention = retention.New(st, cfg.Retention, paths.State)

	logger.LogConfigSummary("config_summary", []string{
		fmt.Sprintf("broker: %s", cfg.Broker.Mode),
		fmt.Sprintf("channel_prefix: %s", cfg.Broker.ChannelPrefix),
		fmt.Sprintf("max_frame_size: %s", humanize.IBytes(uint64(g.MaxFrameSize.Int64()))),
		fmt.Sprintf("max_request_body: %s", humanize.IBytes(uint64(cfg.Server.MaxRequestBody.Int64()))),
		fmt.Sprintf("send_buffer: %s events", humanize.Comma(int64(g.SendBuffer))),
		fmt.Sprintf("event_rate: %.0f/s burst %d", g.EventRPS, g.EventBurst),
	})
	return a, nil
}

// newBroker picks the broker for the configured mode. A redis server that is
// down at startup is not fatal; the bridge runs degraded until it answers.
func newBroker(bc config.BrokerConfig) broker.Broker {
	if bc.Mode != config.BrokerModeRedis {
		logger.Info("broker_memory", "msg", "cross-instance delivery disabled")
		return broker.NewMemoryBroker()
	}
	rb := broker.NewRedisBroker(broker.RedisOptions{Addr: bc.Addr, Password: bc.Password, DB: bc.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.Ping(ctx); err != nil {
		logger.Warn("broker_unreachable_at_startup", "addr", bc.Addr, "error", err)
	} else {
		logger.Info("broker_connected", "addr", bc.Addr)
	}
	return rb
}

// Run starts the retention scheduler and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	cancel, err := a.retention.Start(ctx)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel

	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.eff.Addr, err)
	}
	errCh := a.serve(ln)
	a.state.Store("running")
	logger.Info("server_listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// State reports the lifecycle phase.
func (a *App) State() string {
	s, _ := a.state.Load().(string)
	return s
}
