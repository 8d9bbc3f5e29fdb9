package worktree

import (
	"testing"

	"github.com/ccimen/scc/internal/interaction"
)

func testEntries() []Entry {
	return []Entry{
		{Branch: "scc/feature-dark-mode", Path: "/wt/dark-mode"},
		{Branch: "scc/feature-light-mode", Path: "/wt/light-mode"},
		{Branch: "scc/bugfix-123", Path: "/wt/bugfix-123"},
	}
}

func TestSwitch_CaretGoesToMainRoot(t *testing.T) {
	entry, err := Switch("^", testEntries(), "/repo/main", nil)
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if entry.Path != "/repo/main" {
		t.Errorf("Path = %q, want /repo/main", entry.Path)
	}
}

func TestSwitch_DashGoesToPrevious(t *testing.T) {
	previous := &Entry{Branch: "scc/bugfix-123", Path: "/wt/bugfix-123"}
	entry, err := Switch("-", testEntries(), "/repo/main", previous)
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if entry != previous {
		t.Errorf("Switch(-) did not return the previous entry")
	}
}

func TestSwitch_DashWithoutPreviousErrors(t *testing.T) {
	if _, err := Switch("-", testEntries(), "/repo/main", nil); err == nil {
		t.Error("Switch(-) expected error with no previous worktree, got nil")
	}
}

func TestSwitch_FuzzyMatchSingleHit(t *testing.T) {
	entry, err := Switch("bugfix", testEntries(), "/repo/main", nil)
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if entry.Branch != "scc/bugfix-123" {
		t.Errorf("Branch = %q, want scc/bugfix-123", entry.Branch)
	}
}

func TestSwitch_ExactMatchWinsOverAmbiguity(t *testing.T) {
	entries := append(testEntries(), Entry{Branch: "scc/mode", Path: "/wt/mode"})
	entry, err := Switch("mode", entries, "/repo/main", nil)
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if entry.Branch != "scc/mode" {
		t.Errorf("Branch = %q, want scc/mode (exact match)", entry.Branch)
	}
}

func TestSwitch_AmbiguousFuzzyMatchReturnsCandidates(t *testing.T) {
	_, err := Switch("mode", testEntries(), "/repo/main", nil)
	if err == nil {
		t.Fatal("Switch() expected ambiguous-match error, got nil")
	}
	ambErr, ok := err.(*AmbiguousMatchError)
	if !ok {
		t.Fatalf("error type = %T, want *AmbiguousMatchError", err)
	}
	if len(ambErr.Candidates) != 2 {
		t.Errorf("Candidates = %v, want 2 entries", ambErr.Candidates)
	}
}

func TestSwitch_NoMatchErrors(t *testing.T) {
	if _, err := Switch("nonexistent", testEntries(), "/repo/main", nil); err == nil {
		t.Error("Switch() expected error for no match, got nil")
	}
}

func TestSelect_BuildsOptionsFromEntries(t *testing.T) {
	req := Select(testEntries())
	if req.Kind != interaction.KindSelect {
		t.Errorf("Kind = %q, want %q", req.Kind, interaction.KindSelect)
	}
	if len(req.Options) != 3 {
		t.Errorf("Options = %v, want 3 entries", req.Options)
	}
}

func TestResolveSelection(t *testing.T) {
	entries := testEntries()
	resp := interaction.Response{ID: "worktree-select", Value: "scc/bugfix-123"}
	entry, err := ResolveSelection(resp, entries)
	if err != nil {
		t.Fatalf("ResolveSelection() error = %v", err)
	}
	if entry.Branch != "scc/bugfix-123" {
		t.Errorf("Branch = %q, want scc/bugfix-123", entry.Branch)
	}
}

func TestResolveSelection_UnknownValueErrors(t *testing.T) {
	if _, err := ResolveSelection(interaction.Response{Value: "nope"}, testEntries()); err == nil {
		t.Error("ResolveSelection() expected error for unknown value, got nil")
	}
}
