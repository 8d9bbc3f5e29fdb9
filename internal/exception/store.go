package exception

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccimen/scc/internal/scerr"
)

// schemaVersion is written to every store document so a future format
// change can detect and migrate older files.
const schemaVersion = 1

type document struct {
	SchemaVersion int         `json:"schema_version"`
	Exceptions    []Exception `json:"exceptions"`
}

// Store persists exceptions for a single scope's backing file (one Store
// per local file and one per policy file; the policy file is typically
// read-only to this process, fetched by C3 and cached alongside the org
// config).
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by path. The file is created lazily on
// first write; reads before then return an empty set.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the store, pruning any exception whose expires_at is at or
// before now. A missing file yields an empty, valid store. A corrupt file
// is renamed to "<path>.bak-YYYYMMDD" and replaced with an empty store on
// the next Save, rather than aborting the read.
func (s *Store) Load(now time.Time) ([]Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(now)
}

func (s *Store) loadLocked(now time.Time) ([]Exception, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading exception store %s", s.path), err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if backupErr := s.quarantineLocked(now); backupErr != nil {
			return nil, scerr.WrapConfigError(fmt.Sprintf("exception store %s is corrupt and could not be quarantined", s.path), backupErr)
		}
		return nil, nil
	}

	live := make([]Exception, 0, len(doc.Exceptions))
	for _, e := range doc.Exceptions {
		if e.Expired(now) {
			continue
		}
		live = append(live, e)
	}
	return live, nil
}

// quarantineLocked renames a corrupt store file out of the way so the next
// Load/Save starts from an empty store instead of repeatedly failing.
func (s *Store) quarantineLocked(now time.Time) error {
	backup := s.path + ".bak-" + now.Format("20060102")
	if err := os.Rename(s.path, backup); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// Add appends exception to the store, pruning expired entries first. It
// validates the exception before persisting.
func (s *Store) Add(e Exception, now time.Time) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadLocked(now)
	if err != nil {
		return err
	}
	for _, cur := range existing {
		if cur.ID == e.ID {
			return scerr.NewConfigError(fmt.Sprintf("exception %q already exists", e.ID), "choose a different id or remove the existing exception first")
		}
	}
	existing = append(existing, e)
	return s.saveLocked(existing)
}

// Remove deletes the exception with the given id, pruning expired entries
// in the same pass. Removing an id that doesn't exist is not an error.
func (s *Store) Remove(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadLocked(now)
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, e := range existing {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return s.saveLocked(kept)
}

// saveLocked writes the document via write-temp-then-rename so a crash
// mid-write never leaves a partially written store. Caller must hold s.mu.
func (s *Store) saveLocked(exceptions []Exception) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("creating directory for %s", s.path), err)
	}

	doc := document{SchemaVersion: schemaVersion, Exceptions: exceptions}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return scerr.WrapConfigError("marshaling exception store", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("writing %s", tmpPath), err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return scerr.WrapConfigError(fmt.Sprintf("renaming %s into place", s.path), err)
	}
	return nil
}
