package retention

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iam-i-j-k/backend/pkg/state/logger"
	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

var errNotOwner = errors.New("retention lease: not owner")

// fileLease keeps two processes sharing a data directory from purging at the
// same time. The lock file holds the owner and an expiry so a crashed runner
// cannot block purges forever.
type fileLease struct {
	path string
}

type leaseFile struct {
	Owner   string `json:"owner"`
	Expires string `json:"expires"`
}

func newFileLease(dir string) *fileLease {
	return &fileLease{path: filepath.Join(dir, "retention.lock")}
}

func (l *fileLease) write(path string, lf leaseFile) error {
	b, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (l *fileLease) read() (leaseFile, error) {
	var lf leaseFile
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lf, err
	}
	if err := json.Unmarshal(data, &lf); err != nil {
		return lf, fmt.Errorf("decode %s: %w", l.path, err)
	}
	return lf, nil
}

// Acquire takes the lease for owner unless another owner holds an unexpired one.
func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	now := timeutil.Now()
	tmp := l.path + ".tmp"
	if err := l.write(tmp, leaseFile{Owner: owner, Expires: now.Add(ttl).Format(time.RFC3339Nano)}); err != nil {
		logger.Error("lease_tmp_write_failed", "path", tmp, "error", err)
		return false, err
	}
	// link fails when the lock already exists
	if err := os.Link(tmp, l.path); err == nil {
		_ = os.Remove(tmp)
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	exp, err := time.Parse(time.RFC3339Nano, existing.Expires)
	if err == nil && exp.After(now) {
		_ = os.Remove(tmp)
		logger.Info("lease_currently_held", "path", l.path, "owner", existing.Owner, "expires", existing.Expires)
		return false, nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		logger.Error("lease_replace_failed", "path", l.path, "error", err)
		return false, err
	}
	logger.Info("lease_taken_over", "path", l.path, "owner", owner, "previous", existing.Owner)
	return true, nil
}

// Renew pushes the expiry forward. Only the current owner may renew.
func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return errNotOwner
	}
	existing.Expires = timeutil.Now().Add(ttl).Format(time.RFC3339Nano)
	tmp := l.path + ".tmp"
	if err := l.write(tmp, existing); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// Release removes the lock file if owner holds it.
func (l *fileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return errNotOwner
	}
	return os.Remove(l.path)
}
