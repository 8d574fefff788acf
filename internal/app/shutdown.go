package app

import (
	"context"

	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/state/shutdown"
)

// Shutdown closes sessions first so clients see a close frame, then stops the
// listener and releases the broker and store.
func (a *App) Shutdown(ctx context.Context) error {
	a.state.Store("shutting_down")
	err := shutdown.Run(ctx,
		shutdown.Step{Name: "retention", Fn: func(context.Context) error {
			if a.retentionCancel != nil {
				a.retentionCancel()
			}
			return nil
		}},
		shutdown.Step{Name: "gateway", Fn: a.gateway.Shutdown},
		shutdown.Step{Name: "http", Fn: func(ctx context.Context) error {
			if a.srvFast == nil {
				return nil
			}
			return a.srvFast.ShutdownWithContext(ctx)
		}},
		shutdown.Step{Name: "middleware", Fn: func(context.Context) error {
			if a.mw != nil {
				a.mw.Shutdown()
			}
			return nil
		}},
		shutdown.Step{Name: "broker", Fn: func(context.Context) error { return a.bridge.Close() }},
		shutdown.Step{Name: "store", Fn: func(context.Context) error { return a.store.Close() }},
		shutdown.Step{Name: "audit", Fn: func(context.Context) error {
			logger.Sync()
			return nil
		}},
	)
	if err == nil {
		a.state.Store("stopped")
	}
	return err
}
