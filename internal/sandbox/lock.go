package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ccimen/scc/internal/scerr"
)

// sessionLockInfo is the content of a (workspace, branch) lock file,
// the same PID+liveness shape as internal/marketplace's lockInfo and,
// before that, the teacher's internal/routing/lock.go ProxyLockInfo.
type sessionLockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (l sessionLockInfo) isAlive() bool {
	proc, err := os.FindProcess(l.PID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func sessionLockPath(lockDir, workspace, branch string) string {
	sum := sha256.Sum256([]byte(workspace + "\x00" + branch))
	return filepath.Join(lockDir, hex.EncodeToString(sum[:])+".lock")
}

// acquireSessionLock enforces single-session-per-branch (spec §4.9 step
// 1). Unlike the marketplace materializer's lock, it never blocks: a
// live conflicting session is a user error to surface immediately, not
// a resource contention to wait out.
func acquireSessionLock(lockDir, workspace, branch string) (release func(), err error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("preparing lock directory %s", lockDir), err)
	}
	path := sessionLockPath(lockDir, workspace, branch)

	if tryCreateLock(path) {
		return func() { _ = os.Remove(path) }, nil
	}

	data, readErr := os.ReadFile(path)
	if readErr == nil {
		var info sessionLockInfo
		if json.Unmarshal(data, &info) == nil && info.isAlive() {
			return nil, scerr.NewUsageError(
				fmt.Sprintf("a session is already running for this workspace and branch (pid %d)", info.PID),
				"stop the other session first, or launch a different branch",
			)
		}
	}

	// Stale lock: the prior holder's process is gone. Reclaim it.
	_ = os.Remove(path)
	if tryCreateLock(path) {
		return func() { _ = os.Remove(path) }, nil
	}
	return nil, scerr.NewStateError("could not acquire the session lock after reclaiming a stale one; try again")
}

func tryCreateLock(path string) bool {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	data, _ := json.Marshal(sessionLockInfo{PID: os.Getpid(), StartedAt: time.Now()})
	_, _ = f.Write(data)
	return true
}
