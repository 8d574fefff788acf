package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKeepsGoingAfterFailure(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Fn: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	boom := errors.New("boom")

	err := Run(context.Background(), step("gateway", nil), step("http", boom), Step{Name: "skipped"}, step("store", nil))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "http")
	assert.Equal(t, []string{"gateway", "http", "store"}, order)

	assert.NoError(t, Run(context.Background(), step("only", nil)))
}

func TestSetupSignalHandlerCancel(t *testing.T) {
	ctx, cancel := SetupSignalHandler(context.Background())
	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWriteCrashDump(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteCrashDump(dir, "failed to open store", errors.New("disk gone"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.Join(dir, "state", "crash")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reason: failed to open store")
	assert.Contains(t, string(data), "error: disk gone")
	assert.Contains(t, string(data), "goroutine")
}
