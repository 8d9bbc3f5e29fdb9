package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestRemove_RemovesCleanWorktree(t *testing.T) {
	repoDir := initTestRepo(t)
	defer os.RemoveAll(repoDir)

	wtBase, err := os.MkdirTemp("", "test-wt-base-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(wtBase)
	t.Setenv("SCC_WORKTREE_BASE", wtBase)

	result, err := Resolve(repoDir, "github.com/acme/myrepo", "to-clean", "myapp")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := Remove(repoDir, result.WorkspacePath, false); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if _, err := os.Stat(result.WorkspacePath); !os.IsNotExist(err) {
		t.Error("worktree directory still exists after Remove")
	}
}

func TestRemove_NonExistentPath(t *testing.T) {
	repoDir := initTestRepo(t)
	defer os.RemoveAll(repoDir)

	err := Remove(repoDir, "/nonexistent/path", false)
	if err == nil {
		t.Error("Remove() expected error for nonexistent path, got nil")
	}
}

func TestRemove_RefusesDirtyWorktreeWithoutForce(t *testing.T) {
	repoDir := initTestRepo(t)
	defer os.RemoveAll(repoDir)

	wtBase, err := os.MkdirTemp("", "test-wt-base-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(wtBase)
	t.Setenv("SCC_WORKTREE_BASE", wtBase)

	result, err := Resolve(repoDir, "github.com/acme/myrepo", "dirty", "myapp")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(result.WorkspacePath, "scratch.txt"), []byte("wip"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Remove(repoDir, result.WorkspacePath, false); err == nil {
		t.Error("Remove() expected error for dirty worktree without force, got nil")
	}
	if err := Remove(repoDir, result.WorkspacePath, true); err != nil {
		t.Errorf("Remove() with force error = %v", err)
	}
}

func TestList(t *testing.T) {
	repoDir := initTestRepo(t)
	defer os.RemoveAll(repoDir)

	wtBase, err := os.MkdirTemp("", "test-wt-base-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(wtBase)
	t.Setenv("SCC_WORKTREE_BASE", wtBase)

	repoID := "github.com/acme/myrepo"

	_, err = Resolve(repoDir, repoID, "feat-a", "")
	if err != nil {
		t.Fatalf("Resolve feat-a: %v", err)
	}
	_, err = Resolve(repoDir, repoID, "feat-b", "")
	if err != nil {
		t.Fatalf("Resolve feat-b: %v", err)
	}

	entries, err := List(repoID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List() returned %d entries, want 2", len(entries))
	}
}

func TestPrune_RemovesDirectoryGitNoLongerTracks(t *testing.T) {
	repoDir := initTestRepo(t)
	defer os.RemoveAll(repoDir)

	wtBase, err := os.MkdirTemp("", "test-wt-base-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(wtBase)
	t.Setenv("SCC_WORKTREE_BASE", wtBase)

	repoID := "github.com/acme/myrepo"
	result, err := Resolve(repoDir, repoID, "stale", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Simulate an administrative removal out-of-band of git: the worktree
	// registration is dropped from git's records but the directory stays,
	// still carrying its .git pointer file.
	cmd := exec.Command("git", "worktree", "remove", "--force", result.WorkspacePath)
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git worktree remove: %v\n%s", err, out)
	}
	if err := os.MkdirAll(result.WorkspacePath, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(result.WorkspacePath, ".git"), []byte("gitdir: /nowhere"), 0644); err != nil {
		t.Fatal(err)
	}

	removed, err := Prune(repoDir, repoID)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != result.WorkspacePath {
		t.Errorf("Prune() removed = %v, want [%s]", removed, result.WorkspacePath)
	}
	if _, err := os.Stat(result.WorkspacePath); !os.IsNotExist(err) {
		t.Error("stale worktree directory still exists after Prune")
	}
}
