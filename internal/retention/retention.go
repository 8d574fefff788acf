// Package retention purges declined connection records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/iam-i-j-k/backend/pkg/config"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// Manager runs purges on the configured schedule. At most one run is in
// flight at a time.
type Manager struct {
	cfg config.RetentionConfig
	st  Store
	dir string

	mu      sync.Mutex
	running bool
}

// New returns a Manager. dir is where the purge lease lives.
func New(st Store, cfg config.RetentionConfig, dir string) *Manager {
	return &Manager{cfg: cfg, st: st, dir: dir}
}

// Start launches the schedule loop when retention is enabled. The returned
// func stops it.
func (m *Manager) Start(ctx context.Context) (context.CancelFunc, error) {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(m.cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", m.cfg.Cron)
	}
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period, "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
	return cancel, nil
}

// RunNow performs one purge immediately. It returns a zero Result without
// running when a run is already in flight.
func (m *Manager) RunNow(ctx context.Context) (Result, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Result{}, nil
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	return runOnce(ctx, m.st, m.cfg, m.dir)
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, timeutil.Now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		wait := next.Sub(timeutil.Now())
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := m.RunNow(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
