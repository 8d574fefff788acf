package shutdown

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// abortDelay gives log shippers a moment to pick up the crash before exit.
const abortDelay = 3 * time.Second

// Abort logs a fatal startup error, writes a crash dump under dbPath and exits
// with status 2.
func Abort(contextMsg string, err error, dbPath string) {
	if logger.Log != nil {
		logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", contextMsg, err)
	if path, derr := WriteCrashDump(dbPath, contextMsg, err); derr != nil {
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", path)
	}
	time.Sleep(abortDelay)
	os.Exit(2)
}

// WriteCrashDump writes the reason, the error and all goroutine stacks to
// <dbPath>/state/crash/crash-<ts>.log and returns the file path.
func WriteCrashDump(dbPath, reason string, err error) (string, error) {
	dir := "./crash"
	if dbPath != "" {
		dir = filepath.Join(dbPath, "state", "crash")
	}
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", fmt.Errorf("create crash dir: %w", e)
	}
	f, ferr := os.CreateTemp(dir, ".crash-*.tmp")
	if ferr != nil {
		return "", fmt.Errorf("create temp crash file: %w", ferr)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	now := time.Now().UTC()
	fmt.Fprintf(f, "time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "pid: %d\n", os.Getpid())
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	if err := f.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", now.UnixNano()))
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("move crash dump into place: %w", err)
	}
	return path, nil
}
