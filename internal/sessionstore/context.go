package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ccimen/scc/internal/scerr"
)

// ContextStore persists the bounded work-context list as a single JSON
// file (unlike the session log, this is small and rewritten wholesale,
// the same write-temp-then-rename discipline as internal/exception/store.go).
type ContextStore struct {
	path string
	mu   sync.Mutex
	maxEntries int
}

// NewContextStore returns a ContextStore backed by path, capped at
// MaxContexts entries.
func NewContextStore(path string) *ContextStore {
	return &ContextStore{path: path, maxEntries: MaxContexts}
}

// List returns every stored context, sorted pinned-first, then by
// last_used_at descending (spec §4.8).
func (c *ContextStore) List() ([]WorkContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contexts, err := c.loadLocked()
	if err != nil {
		return nil, err
	}
	sortContexts(contexts)
	return contexts, nil
}

// Upsert records ctx as the most recently used context for its
// (RepositoryRoot, WorktreePath, Branch), inserting it if not already
// present. If the list exceeds its cap after insertion, the least
// recently used unpinned entry is evicted.
func (c *ContextStore) Upsert(ctx WorkContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	contexts, err := c.loadLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range contexts {
		if sameContext(existing, ctx) {
			contexts[i] = ctx
			replaced = true
			break
		}
	}
	if !replaced {
		contexts = append(contexts, ctx)
	}

	sortContexts(contexts)
	if len(contexts) > c.maxEntries {
		contexts = evictOldest(contexts, c.maxEntries)
	}

	return c.saveLocked(contexts)
}

// Resume returns the most recent context (by the same sort as List)
// whose workspace (RepositoryRoot, or WorktreePath if set) currently
// exists on disk. Whether a diverged branch is acceptable is the
// caller's decision, not this store's.
func (c *ContextStore) Resume() (WorkContext, bool, error) {
	contexts, err := c.List()
	if err != nil {
		return WorkContext{}, false, err
	}
	for _, ctx := range contexts {
		path := ctx.WorktreePath
		if path == "" {
			path = ctx.RepositoryRoot
		}
		if _, err := os.Stat(path); err == nil {
			return ctx, true, nil
		}
	}
	return WorkContext{}, false, nil
}

func sameContext(a, b WorkContext) bool {
	return a.RepositoryRoot == b.RepositoryRoot && a.WorktreePath == b.WorktreePath && a.Branch == b.Branch
}

func sortContexts(contexts []WorkContext) {
	sort.SliceStable(contexts, func(i, j int) bool {
		if contexts[i].Pinned != contexts[j].Pinned {
			return contexts[i].Pinned
		}
		return contexts[i].LastUsedAt.After(contexts[j].LastUsedAt)
	})
}

// evictOldest drops unpinned entries from the tail (already sorted
// pinned-first, most-recent-first) until the list fits within cap. If
// pinned entries alone exceed cap, they are all kept; the cap is a
// soft bound on unpinned history, not a hard limit on pinned contexts.
func evictOldest(contexts []WorkContext, max int) []WorkContext {
	if len(contexts) <= max {
		return contexts
	}
	kept := make([]WorkContext, 0, len(contexts))
	pinnedCount := 0
	for _, ctx := range contexts {
		if ctx.Pinned {
			pinnedCount++
		}
	}
	budget := max
	if pinnedCount > budget {
		budget = pinnedCount
	}
	for _, ctx := range contexts {
		if len(kept) >= budget {
			break
		}
		kept = append(kept, ctx)
	}
	return kept
}

func (c *ContextStore) loadLocked() ([]WorkContext, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading context store %s", c.path), err)
	}
	var contexts []WorkContext
	if err := json.Unmarshal(data, &contexts); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("parsing context store %s", c.path), err)
	}
	return contexts, nil
}

func (c *ContextStore) saveLocked(contexts []WorkContext) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("creating directory for %s", c.path), err)
	}
	data, err := json.MarshalIndent(contexts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context store: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return scerr.WrapConfigError(fmt.Sprintf("writing %s", tmp), err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return scerr.WrapConfigError(fmt.Sprintf("renaming %s into place", c.path), err)
	}
	return nil
}
