// Package policy implements the effective-config computation pipeline
// (spec §4.4): resolving an organization config, a team profile, and an
// optional project config into the single EffectiveConfig a sandbox run
// is launched with.
package policy

import (
	"github.com/ccimen/scc/internal/exception"
	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/pattern"
)

// Layer identifies which config layer contributed a plugin, MCP server, or
// decision.
type Layer string

const (
	LayerOrg     Layer = "org"
	LayerTeam    Layer = "team"
	LayerProject Layer = "project"
)

// Blocked records a plugin, MCP server, or base image removed by a security
// block (spec §4.4 step 6).
type Blocked struct {
	Ref      string
	Pattern  string
	Layer    Layer
	Category exception.Category
}

// Denied records a plugin or MCP server removed for a non-security reason
// (not in allowed set, or ungranted delegation).
type Denied struct {
	Ref      string
	Reason   string
	Category exception.Category
}

// Decision is an audit-trail entry recorded for every retention/removal
// decision in the pipeline (spec §4.4 step 10).
type Decision struct {
	Field  string
	Value  string
	Source Layer
}

// EffectiveConfig is the pipeline's output: what a sandbox run is actually
// launched with, plus the full trail of why.
type EffectiveConfig struct {
	Enabled           []pattern.Ref
	Blocked           []Blocked
	Denied            []Denied
	ExtraMarketplaces []string
	MCPServers        []orgconfig.MCPServer
	Decisions         []Decision
	ExceptionsApplied []string
}

// enabledEntry tracks a single enabled plugin ref together with the layer
// that contributed it, so step 5's delegation gate and step 6's security
// block can both attribute removals correctly.
type enabledEntry struct {
	ref   pattern.Ref
	layer Layer
}

// mcpEntry tracks a single additional MCP server together with its layer.
type mcpEntry struct {
	server orgconfig.MCPServer
	layer  Layer
}

// Input bundles everything compute_effective_config needs.
type Input struct {
	Org        *orgconfig.OrganizationConfig
	Team       string
	Project    *orgconfig.ProjectConfig
	Exceptions []exception.Exception
	ImageRef   string // the base image the sandbox spec has chosen, for step 6's base-image block
}
