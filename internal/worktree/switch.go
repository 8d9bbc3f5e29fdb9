package worktree

import (
	"fmt"
	"strings"

	"github.com/ccimen/scc/internal/scerr"
)

// AmbiguousMatchError is returned by Switch when a fuzzy target matches
// more than one worktree, none of them exactly. Callers typically
// recover by presenting Select over Candidates instead of failing.
type AmbiguousMatchError struct {
	Target     string
	Candidates []Entry
}

func (e *AmbiguousMatchError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Branch
	}
	return fmt.Sprintf("%q matches multiple worktrees: %s", e.Target, strings.Join(names, ", "))
}

// Switch resolves a switch target to the worktree entry it names.
// target may be:
//   - "^": the main repository root (mainRepoRoot), not a worktree at all.
//   - "-": the previously active worktree, supplied by the caller since
//     this package keeps no notion of history itself.
//   - anything else: fuzzy-matched (case-insensitive substring, prefix
//     stripped) against entries' branch names. An exact match always
//     wins even when a looser substring also matches something else.
func Switch(target string, entries []Entry, mainRepoRoot string, previous *Entry) (*Entry, error) {
	switch target {
	case "^":
		return &Entry{Branch: "", Path: mainRepoRoot}, nil
	case "-":
		if previous == nil {
			return nil, scerr.NewUsageError("no previous worktree to switch to", "")
		}
		return previous, nil
	}

	matches := fuzzyMatch(target, entries)
	switch len(matches) {
	case 0:
		return nil, scerr.NewUsageError(
			fmt.Sprintf("no worktree matches %q", target),
			"run `scc wt list` to see available worktrees",
		)
	case 1:
		return &matches[0], nil
	default:
		return nil, &AmbiguousMatchError{Target: target, Candidates: matches}
	}
}

func fuzzyMatch(target string, entries []Entry) []Entry {
	target = strings.ToLower(target)

	for _, e := range entries {
		if strippedBranch(e) == target {
			return []Entry{e}
		}
	}

	var out []Entry
	for _, e := range entries {
		if strings.Contains(strippedBranch(e), target) {
			out = append(out, e)
		}
	}
	return out
}

func strippedBranch(e Entry) string {
	return strings.ToLower(strings.TrimPrefix(e.Branch, BranchPrefix))
}
