package marketplace

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockSerializesAccess(t *testing.T) {
	dir := t.TempDir()

	release1, err := acquireLock(context.Background(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = acquireLock(ctx, dir)
	assert.Error(t, err, "second acquire should block until the first releases or ctx expires")

	release1()

	release2, err := acquireLock(context.Background(), dir)
	require.NoError(t, err)
	release2()
}

func TestAcquireLockReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(lockInfo{PID: 1 << 30, StartedAt: time.Now()}) // implausible PID, guaranteed not alive
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath(dir), data, 0o644))

	release, err := acquireLock(context.Background(), dir)
	require.NoError(t, err)
	release()
}
