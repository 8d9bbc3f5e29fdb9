package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ccimen/scc/internal/scerr"
)

const projectMarkerFile = ".scc.yaml"

// Resolve implements spec §4.7's single authoritative resolver. explicit,
// if non-empty, is used verbatim (rule 1); otherwise ed's ancestors are
// searched for a repository root or a project marker (rule 2).
func Resolve(ed, explicit string) (*Decision, error) {
	if explicit != "" {
		return resolveExplicit(ed, explicit)
	}
	return resolveAuto(ed)
}

func resolveExplicit(ed, explicit string) (*Decision, error) {
	abs, err := filepath.Abs(explicit)
	if err != nil {
		return nil, scerr.NewUsageError(fmt.Sprintf("resolving workspace path %q: %v", explicit, err), "pass a valid path")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, scerr.NewUsageError(fmt.Sprintf("workspace path %q does not exist", explicit), "pass an existing directory")
	}
	if !info.IsDir() {
		return nil, scerr.NewUsageError(fmt.Sprintf("workspace path %q is not a directory", explicit), "pass a directory, not a file")
	}
	mr, cw, warnings := resolveMount(abs)
	d := &Decision{WR: abs, ED: ed, MR: mr, CW: cw, IsAutoDetected: false, Warnings: warnings}
	classify(d)
	return d, nil
}

func resolveAuto(ed string) (*Decision, error) {
	abs, err := filepath.Abs(ed)
	if err != nil {
		return nil, scerr.NewUsageError(fmt.Sprintf("resolving entry directory: %v", err), "check the current working directory is accessible")
	}

	gitLevel := findAncestor(abs, isRepoMarker)
	sccLevel := findAncestor(abs, isProjectMarker)

	var wr string
	var warnings []string
	switch {
	case gitLevel != "":
		// The repository root wins whenever both markers are present,
		// even if the project marker is nearer to ed.
		wr = gitLevel
	case sccLevel != "":
		wr = sccLevel
	default:
		wr = abs
		warnings = append(warnings, fmt.Sprintf("no repository root or %s marker found above %s; using it as the workspace root", projectMarkerFile, ed))
	}

	mr, cw, mountWarnings := resolveMount(wr)
	d := &Decision{WR: wr, ED: ed, MR: mr, CW: cw, IsAutoDetected: true, Warnings: append(warnings, mountWarnings...)}
	classify(d)
	return d, nil
}

// findAncestor walks from dir up to the filesystem root, returning the
// first directory for which marker reports true, or "" if none match.
func findAncestor(dir string, marker func(string) bool) string {
	cur := dir
	for {
		if marker(cur) {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}

func isProjectMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, projectMarkerFile))
	return err == nil
}

// isRepoMarker reports whether dir contains a .git directory, or a .git
// file whose content is a `gitdir:` pointer (the worktree case).
func isRepoMarker(dir string) bool {
	path := filepath.Join(dir, ".git")
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(data)), "gitdir:")
}

// resolveMount computes MR and CW for a workspace root. When wr is a
// linked worktree (its .git is a gitdir pointer), MR is the main repo
// root the pointer resolves to, so the worktree stays reachable through
// its gitdir file inside the mounted volume; CW is wr's path relative to
// MR. Otherwise MR == WR and CW is ".".
func resolveMount(wr string) (mr, cw string, warnings []string) {
	gitFile := filepath.Join(wr, ".git")
	info, err := os.Stat(gitFile)
	if err != nil || info.IsDir() {
		return wr, ".", nil
	}

	data, err := os.ReadFile(gitFile)
	if err != nil {
		return wr, ".", []string{fmt.Sprintf("could not read %s: %v", gitFile, err)}
	}
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "gitdir:"))
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(wr, target)
	}

	root, err := mainRepoRootFromGitdir(target)
	if err != nil {
		return wr, ".", []string{fmt.Sprintf("could not resolve main repository root from %s: %v", gitFile, err)}
	}
	rel, err := filepath.Rel(root, wr)
	if err != nil {
		return wr, ".", []string{fmt.Sprintf("could not compute workdir relative to %s: %v", root, err)}
	}
	return root, rel, nil
}

// mainRepoRootFromGitdir walks up from a worktree's gitdir target
// (.../.git/worktrees/<name>) to the main repository's working tree root.
func mainRepoRootFromGitdir(gitdirTarget string) (string, error) {
	cur := filepath.Clean(gitdirTarget)
	for {
		parent := filepath.Dir(cur)
		if filepath.Base(parent) == "worktrees" && filepath.Base(filepath.Dir(parent)) == ".git" {
			return filepath.Dir(filepath.Dir(parent)), nil
		}
		if parent == cur {
			return "", fmt.Errorf("gitdir target %q does not look like a worktree path", gitdirTarget)
		}
		cur = parent
	}
}

func classify(d *Decision) {
	if isSuspiciousPath(d.WR) {
		d.IsSuspicious = true
		d.Warnings = append(d.Warnings, fmt.Sprintf("workspace root %s looks like a home directory, filesystem root, or system directory", d.WR))
	}
	if isSlowPath(d.WR) {
		d.IsSlow = true
		d.Warnings = append(d.Warnings, fmt.Sprintf("workspace root %s is under /mnt; this is often a non-native filesystem on a virtualized host and may be slow", d.WR))
	}
}

func isSuspiciousPath(wr string) bool {
	clean := filepath.Clean(wr)
	if home, err := os.UserHomeDir(); err == nil && clean == filepath.Clean(home) {
		return true
	}
	if clean == string(filepath.Separator) {
		return true
	}
	for _, sys := range systemDirs() {
		if clean == sys {
			return true
		}
	}
	return false
}

func systemDirs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/System", "/Library", "/usr", "/bin", "/sbin", "/etc", "/var", "/private"}
	case "windows":
		return []string{`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`}
	default:
		return []string{"/usr", "/bin", "/sbin", "/etc", "/var", "/lib", "/lib64", "/proc", "/sys", "/boot"}
	}
}

func isSlowPath(wr string) bool {
	return strings.HasPrefix(filepath.Clean(wr), string(filepath.Separator)+"mnt"+string(filepath.Separator)) ||
		filepath.Clean(wr) == string(filepath.Separator)+"mnt"
}
