package sessionstore

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccimen/scc/internal/id"
	"github.com/ccimen/scc/internal/scerr"
)

// NewSessionID returns a freshly generated session identifier in the
// "sess_<12 hex chars>" shape callers should use when starting a new
// SessionRecord.
func NewSessionID() string {
	return id.Generate("sess")
}

// Store manages the append-only session log for every (workspace, branch)
// pair under a root directory, grounded on the teacher's
// internal/session/session.go Manager but keyed by workspace+branch
// instead of by session ID, and NDJSON-append rather than one
// metadata.json per session.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a Store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// logPath returns the NDJSON log file for a (workspace, branch) pair. The
// pair is hashed into the filename since workspace is an arbitrary
// filesystem path and branch may contain characters unsafe for a path
// component.
func (s *Store) logPath(workspace, branch string) string {
	sum := sha256.Sum256([]byte(workspace + "\x00" + branch))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".ndjson")
}

// Append writes rec as the new latest state for its (Workspace, Branch,
// ID). The log file is read in full, the new line appended in memory,
// and the whole result written to a sidecar and renamed over the log —
// the lock+write-sidecar+rename atomicity spec §4.8 requires.
func (s *Store) Append(rec SessionRecord) error {
	if rec.ID == "" {
		return scerr.NewStateError("session record must have a non-empty ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("creating session store directory %s", s.dir), err)
	}

	path := s.logPath(rec.Workspace, rec.Branch)
	lines, err := readValidLines(path)
	if err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	lines = append(lines, line)

	return writeLinesAtomic(path, lines)
}

// Records returns every valid record in a (workspace, branch)'s log, in
// append order. Corrupt trailing records (a partial write from a crash
// mid-append) are skipped rather than failing the whole read.
func (s *Store) Records(workspace, branch string) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := readValidLines(s.logPath(workspace, branch))
	if err != nil {
		return nil, err
	}
	records := make([]SessionRecord, 0, len(lines))
	for _, line := range lines {
		var rec SessionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Latest returns the most recently appended record for a (workspace,
// branch) pair, or ok=false if the log is empty.
func (s *Store) Latest(workspace, branch string) (SessionRecord, bool, error) {
	records, err := s.Records(workspace, branch)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if len(records) == 0 {
		return SessionRecord{}, false, nil
	}
	return records[len(records)-1], true, nil
}

// ReconcileIncomplete marks a still-"running" session as incomplete on
// the next invocation that notices it, estimating its end time from the
// team's configured expected duration (spec §4.8: platforms that replace
// the process with the agent binary can't record a clean end time).
func (s *Store) ReconcileIncomplete(workspace, branch string, now time.Time) error {
	latest, ok, err := s.Latest(workspace, branch)
	if err != nil {
		return err
	}
	if !ok || latest.Status != StatusRunning {
		return nil
	}

	estimated := latest.StartedAt.Add(latest.ExpectedDuration)
	if estimated.After(now) {
		estimated = now
	}
	latest.Status = StatusIncomplete
	latest.EndedAt = &estimated
	return s.Append(latest)
}

func readValidLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading session log %s", path), err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			// A corrupt trailing line from a crash mid-append; stop
			// reading rather than risk re-ordering a partially written
			// log, matching spec §4.8's "readers ignore corrupt
			// trailing records".
			break
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	return lines, nil
}

func writeLinesAtomic(path string, lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("writing %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return scerr.WrapConfigError(fmt.Sprintf("renaming %s into place", path), err)
	}
	return nil
}
