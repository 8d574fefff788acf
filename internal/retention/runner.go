package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iam-i-j-k/backend/pkg/config"
	"github.com/iam-i-j-k/backend/pkg/models"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/store"
	"github.com/iam-i-j-k/backend/pkg/store/keys"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// batchSize caps how many declined connections one scan loads.
const batchSize = 500

// Store is what a purge run needs from the document store.
type Store interface {
	ListDeclinedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Connection, error)
	DeleteConnection(ctx context.Context, id string, f store.ConnectionFilter) (*models.Connection, error)
}

// Result summarizes one purge run.
type Result struct {
	RunID   string
	Scanned int
	Purged  int
	Failed  int
}

// runOnce purges declined connections older than the configured period. With
// dry_run set every eligible record is audited but kept. dir holds the lease
// file; an empty dir skips leasing.
func runOnce(ctx context.Context, st Store, ret config.RetentionConfig, dir string) (Result, error) {
	res := Result{RunID: keys.GenID()}
	period, err := config.ParseRetentionPeriod(ret.Period)
	if err != nil {
		return res, fmt.Errorf("invalid retention period: %w", err)
	}

	ttl := ret.LockTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if dir != "" {
		lease := newFileLease(dir)
		ok, err := lease.Acquire(res.RunID, ttl)
		if err != nil {
			return res, fmt.Errorf("lease acquire: %w", err)
		}
		if !ok {
			logger.Info("retention_lease_not_acquired")
			return res, nil
		}
		defer func() {
			if err := lease.Release(res.RunID); err != nil {
				logger.Error("retention_lease_release_failed", "error", err)
			}
		}()
		go heartbeat(runCtx, cancel, lease, res.RunID, ttl)
	}

	cutoff := timeutil.Now().Add(-period)
	logger.AuditInfo("retention_audit_header", "run_id", res.RunID, "started_at", timeutil.Now().Format(time.RFC3339), "cutoff", cutoff.Format(time.RFC3339), "dry_run", ret.DryRun)

	// dry runs keep the records, so a single bounded scan is enough
	for {
		batch, err := st.ListDeclinedBefore(runCtx, cutoff, batchSize)
		if err != nil {
			return res, fmt.Errorf("list declined: %w", err)
		}
		res.Scanned += len(batch)
		deleted := 0
		for _, c := range batch {
			if runCtx.Err() != nil {
				return res, fmt.Errorf("retention run aborted: %w", runCtx.Err())
			}
			if ret.DryRun {
				logger.AuditInfo("retention_audit_item", "run_id", res.RunID, "connection_id", c.ID, "status", "dry_run")
				continue
			}
			_, err := st.DeleteConnection(runCtx, c.ID, store.ConnectionFilter{Status: models.StatusDeclined})
			switch {
			case err == nil:
				res.Purged++
				deleted++
				logger.AuditInfo("retention_audit_item", "run_id", res.RunID, "connection_id", c.ID, "status", "purged")
			case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConditionFailed):
				// removed or changed since the scan
			default:
				res.Failed++
				logger.AuditInfo("retention_audit_item", "run_id", res.RunID, "connection_id", c.ID, "status", "failed", "error", err.Error())
			}
		}
		if ret.DryRun || len(batch) < batchSize || deleted == 0 {
			break
		}
	}

	logger.AuditInfo("retention_audit_footer", "run_id", res.RunID, "scanned", res.Scanned, "purged", res.Purged, "failed", res.Failed)
	logger.Info("retention_run_complete", "run_id", res.RunID, "scanned", res.Scanned, "purged", res.Purged, "failed", res.Failed)
	return res, nil
}

// heartbeat renews the lease until ctx ends and aborts the run after repeated
// renewal failures.
func heartbeat(ctx context.Context, abort context.CancelFunc, lease *fileLease, owner string, ttl time.Duration) {
	const maxFails = 3
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Renew(owner, ttl); err != nil {
				fails++
				logger.Error("retention_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxFails {
					abort()
					return
				}
				continue
			}
			fails = 0
		}
	}
}
