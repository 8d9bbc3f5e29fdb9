// Package settings renders an effective config into Claude's native
// settings.json fragment and merges it into the user's existing settings
// without disturbing keys it doesn't own (spec §4.6).
package settings

import (
	"encoding/json"
)

// Document is a raw settings.json, modeled key-by-key so the merger can
// remove and overlay individual top-level keys without needing to
// understand every key's shape — including ones this package never
// writes, which must survive untouched.
type Document map[string]json.RawMessage

// Clone returns a shallow copy safe to mutate independently of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// MarketplaceEntry is the `extraKnownMarketplaces` value shape, mirroring
// the teacher's internal/claude/settings.go MarketplaceEntry.
type MarketplaceEntry struct {
	Source MarketplaceSource `json:"source"`
}

// MarketplaceSource is always rendered as a workspace-relative directory
// source (spec §4.6: "Absolute paths are rejected by a smoke-test
// invariant").
type MarketplaceSource struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// MCPServerEntry is the `mcpServers` value shape. Stdio servers carry
// Command/Args/Env; HTTP/SSE servers carry Type/URL/Headers.
type MCPServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Keys this package is ever responsible for rendering; the merge
// algorithm's managed_state is always a subset of this set.
const (
	KeyEnabledPlugins    = "enabledPlugins"
	KeyExtraMarketplaces = "extraKnownMarketplaces"
	KeyMCPServers        = "mcpServers"
)
