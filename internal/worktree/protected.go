package worktree

import (
	"fmt"

	"github.com/ccimen/scc/internal/interaction"
	"github.com/ccimen/scc/internal/scerr"
)

// DefaultProtectedBranches is the built-in protected list, overridable by
// org config.
var DefaultProtectedBranches = []string{"main", "master", "develop", "production", "staging"}

// IsProtected reports whether branch matches the configured protected
// list. The check runs at launch time, not at worktree creation time
// (a worktree may sit on a protected branch harmlessly until something
// tries to run inside it).
func IsProtected(branch string, protected []string) bool {
	for _, p := range protected {
		if branch == p {
			return true
		}
	}
	return false
}

// ProtectedDecision is the caller's resolution of a protected-branch
// InteractionRequest.
type ProtectedDecision string

const (
	ProtectedCreateBranch   ProtectedDecision = "create"
	ProtectedContinuePushBlocked ProtectedDecision = "continue"
	ProtectedCancel         ProtectedDecision = "cancel"
)

// ProtectedBranchRequest builds the InteractionRequest surfaced when a
// launch targets a protected branch: offer to create a new branch,
// continue with pushes blocked, or cancel. This is the caller's
// decision — this package never guesses.
func ProtectedBranchRequest(branch string) interaction.Request {
	return interaction.Request{
		Kind: interaction.KindSelect,
		ID:   "protected-branch-" + branch,
		Label: fmt.Sprintf(
			"%q is a protected branch: create a new branch, continue with pushes blocked, or cancel?",
			branch,
		),
		Options: []string{string(ProtectedCreateBranch), string(ProtectedContinuePushBlocked), string(ProtectedCancel)},
		Default: string(ProtectedCancel),
	}
}

// ParseProtectedDecision validates a protected-branch Response value.
func ParseProtectedDecision(value string) (ProtectedDecision, error) {
	switch ProtectedDecision(value) {
	case ProtectedCreateBranch, ProtectedContinuePushBlocked, ProtectedCancel:
		return ProtectedDecision(value), nil
	default:
		return "", scerr.NewUsageError(fmt.Sprintf("unrecognized protected-branch decision %q", value), "")
	}
}
