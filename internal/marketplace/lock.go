package marketplace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ccimen/scc/internal/scerr"
)

// lockInfo is the advisory lock record written alongside a marketplace
// cache directory, generalizing the teacher's ProxyLockInfo
// (internal/routing/lock.go) from "one proxy per port" to "one
// materialization per cache directory".
type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (l lockInfo) isAlive() bool {
	process, err := os.FindProcess(l.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func lockPath(cacheDir string) string { return filepath.Join(cacheDir, ".materialize.lock") }

// acquireLock serializes concurrent materializations of the same cache
// directory (spec §4.5's "two concurrent launches ... must serialize").
// It polls for a stale or released lock until ctx is done.
func acquireLock(ctx context.Context, cacheDir string) (release func(), err error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, scerr.WrapConfigError("creating marketplace cache directory", err)
	}
	path := lockPath(cacheDir)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if acquired := tryLock(path); acquired {
			return func() { _ = os.Remove(path) }, nil
		}

		if existing, ok := readLock(path); ok && !existing.isAlive() {
			_ = os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, scerr.WrapConfigError("waiting for marketplace cache lock", ctx.Err())
		case <-ticker.C:
		}
	}
}

func tryLock(path string) bool {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()

	data, err := json.Marshal(lockInfo{PID: os.Getpid(), StartedAt: time.Now()})
	if err != nil {
		return false
	}
	_, _ = f.Write(data)
	return true
}

func readLock(path string) (lockInfo, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockInfo{}, false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return lockInfo{}, false
	}
	return info, true
}
