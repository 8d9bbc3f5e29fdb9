package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ccimen/scc/internal/scerr"
)

// Entry represents a managed worktree on disk.
type Entry struct {
	Branch string // branch name (directory name)
	Path   string // absolute path to worktree
}

// Remove deletes a worktree. force must be true when the worktree has
// uncommitted changes (spec: "remove (force flag required when the
// worktree has uncommitted work)"); without force, a dirty worktree is
// refused rather than silently discarded.
func Remove(repoRoot, wtPath string, force bool) error {
	if _, err := os.Stat(wtPath); os.IsNotExist(err) {
		return scerr.NewUsageError(fmt.Sprintf("worktree path does not exist: %s", wtPath), "")
	}

	if !force {
		dirty, err := hasUncommittedChanges(wtPath)
		if err != nil {
			return fmt.Errorf("checking worktree status: %w", err)
		}
		if dirty {
			return scerr.NewUsageError(
				fmt.Sprintf("worktree %s has uncommitted changes", wtPath),
				"pass --force to remove it anyway",
			)
		}
	}

	return removeWorktree(repoRoot, wtPath, force)
}

func hasUncommittedChanges(wtPath string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = wtPath
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func removeWorktree(repoRoot, wtPath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, wtPath)

	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		// Fall back to manual removal + prune if git worktree remove fails
		if rmErr := os.RemoveAll(wtPath); rmErr != nil {
			return fmt.Errorf("removing worktree: %w (git error: %s)", rmErr, out)
		}
		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = repoRoot
		_ = pruneCmd.Run() // best effort
	}

	return nil
}

// List returns all managed worktree entries for a given repo ID.
// It walks the directory tree to find worktrees, supporting branch names
// with slashes (e.g., feature/dark-mode) which create nested directories.
// A worktree is identified by the presence of a .git file (not directory)
// in its root, which git creates for worktrees.
func List(repoID string) ([]Entry, error) {
	repoDir := filepath.Join(BasePath(), repoID)

	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		return nil, nil
	}

	var result []Entry
	err := filepath.WalkDir(repoDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable directories
		}
		// Skip the repo dir itself
		if path == repoDir {
			return nil
		}
		// Check for .git file (not directory) — the marker for a git worktree
		gitPath := filepath.Join(path, ".git")
		info, statErr := os.Stat(gitPath)
		if statErr != nil || info.IsDir() {
			return nil // not a worktree, keep walking
		}
		// This is a worktree. The branch name is the relative path from repoDir.
		rel, relErr := filepath.Rel(repoDir, path)
		if relErr != nil {
			return nil
		}
		result = append(result, Entry{
			Branch: rel,
			Path:   path,
		})
		// Don't descend into the worktree itself
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Prune removes stale on-disk worktree entries: first it asks git to
// clean up administrative metadata for worktrees whose directory is
// already gone, then it removes any on-disk directory under repoID's
// worktree base that git no longer considers a live worktree of
// repoRoot (e.g. left behind by a manual rm -rf). Returns the paths it
// removed.
func Prune(repoRoot, repoID string) ([]string, error) {
	cmd := exec.Command("git", "worktree", "prune")
	cmd.Dir = repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git worktree prune: %w\n%s", err, out)
	}

	live, err := liveWorktreePaths(repoRoot)
	if err != nil {
		return nil, err
	}

	entries, err := List(repoID)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if live[e.Path] {
			continue
		}
		if err := os.RemoveAll(e.Path); err != nil {
			return removed, fmt.Errorf("removing stale worktree %s: %w", e.Path, err)
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

// liveWorktreePaths parses `git worktree list --porcelain` into the set
// of working-tree directories git currently tracks for repoRoot.
func liveWorktreePaths(repoRoot string) (map[string]bool, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}

	live := map[string]bool{}
	for _, line := range strings.Split(string(out), "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			live[path] = true
		}
	}
	return live, nil
}
