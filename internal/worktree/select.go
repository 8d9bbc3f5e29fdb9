package worktree

import (
	"fmt"

	"github.com/ccimen/scc/internal/interaction"
	"github.com/ccimen/scc/internal/scerr"
)

// Select builds the interactive picker request for "switch" with no
// resolvable target, or an explicit "select" invocation: the caller
// renders it and resumes with the chosen branch as interaction.Response.Value.
func Select(entries []Entry) interaction.Request {
	opts := make([]string, len(entries))
	for i, e := range entries {
		opts[i] = e.Branch
	}
	return interaction.Request{
		Kind:    interaction.KindSelect,
		ID:      "worktree-select",
		Label:   "select a worktree",
		Options: opts,
	}
}

// ResolveSelection maps a Select response back to the chosen Entry.
func ResolveSelection(resp interaction.Response, entries []Entry) (*Entry, error) {
	for i := range entries {
		if entries[i].Branch == resp.Value {
			return &entries[i], nil
		}
	}
	return nil, scerr.NewUsageError(fmt.Sprintf("selection %q is not a known worktree", resp.Value), "")
}
