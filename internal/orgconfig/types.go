// Package orgconfig defines the organization/team/project configuration
// data model (spec §3, §6) and its JSON decode/validation boundary.
package orgconfig

import (
	"encoding/json"
	"sort"
)

// MarketplaceSource is a tagged variant over the six supported marketplace
// fetch sources. Source discriminates; only the fields matching Source are
// populated. Modeled as a single struct with an exhaustive switch at
// consumption sites, never an interface hierarchy (spec §9 design note).
type MarketplaceSource struct {
	Source string `json:"source"` // "github" | "git" | "url" | "directory" | "file" | "npm"

	// github
	Repo string `json:"repo,omitempty"`
	Ref  string `json:"ref,omitempty"`
	Path string `json:"path,omitempty"`

	// git (URL shared with github's Ref/Path above)
	URL string `json:"url,omitempty"`

	// url
	Headers        map[string]string `json:"headers,omitempty"`
	Materialization string           `json:"materialization,omitempty"` // self_contained|metadata_only|best_effort

	// npm
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
}

const (
	SourceGitHub     = "github"
	SourceGit        = "git"
	SourceURL        = "url"
	SourceDirectory  = "directory"
	SourceFile       = "file"
	SourceNPM        = "npm"

	MaterializationSelfContained = "self_contained"
	MaterializationMetadataOnly  = "metadata_only"
	MaterializationBestEffort    = "best_effort"
)

// MarketplaceEntry wraps a MarketplaceSource with the optional description
// carried alongside it in the org config's marketplaces map.
type MarketplaceEntry struct {
	Source      MarketplaceSource `json:"source"`
	Description string            `json:"description,omitempty"`
}

// SafetyNet describes the org's safety-net configuration, written read-only
// into the sandbox by C9 step 4 when present. Raw preserves the document
// exactly as configured (the sandbox only needs to write it out verbatim,
// not interpret its contents).
type SafetyNet struct {
	Action string          `json:"action"` // block|warn|allow
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps Action decoded for callers that branch on it while
// retaining the full document in Raw for verbatim passthrough into the
// sandbox's read-only mount.
func (s *SafetyNet) UnmarshalJSON(data []byte) error {
	type shadow struct {
		Action string `json:"action"`
	}
	var sh shadow
	if err := json.Unmarshal(data, &sh); err != nil {
		return err
	}
	s.Action = sh.Action
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON round-trips the original document.
func (s SafetyNet) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	return json.Marshal(struct {
		Action string `json:"action"`
	}{Action: s.Action})
}

// Security holds the org's hard-block and stdio-gate configuration.
type Security struct {
	BlockedPlugins            []string  `json:"blocked_plugins,omitempty"`
	BlockedMCPServers         []string  `json:"blocked_mcp_servers,omitempty"`
	BlockedBaseImages         []string  `json:"blocked_base_images,omitempty"`
	AllowStdioMCP             bool      `json:"allow_stdio_mcp"`
	AllowedStdioPrefixes      []string  `json:"allowed_stdio_prefixes,omitempty"`
	SafetyNet                 *SafetyNet `json:"safety_net,omitempty"`
	BlockImplicitMarketplaces bool      `json:"block_implicit_marketplaces"`
}

// Delegation holds per-team grants of what the team may add beyond the org
// defaults, and whether it may further delegate to its projects.
type Delegation struct {
	Teams TeamDelegation `json:"teams"`
}

// TeamDelegation lists the teams (or "*" wildcard) granted each addition
// right at the org layer.
type TeamDelegation struct {
	AllowAdditionalPlugins    []string `json:"allow_additional_plugins,omitempty"`
	AllowAdditionalMCPServers []string `json:"allow_additional_mcp_servers,omitempty"`
	AllowAdditionalMarketplaces []string `json:"allow_additional_marketplaces,omitempty"`
}

// allows reports whether team is granted the given right, honoring the "*"
// wildcard.
func (d TeamDelegation) allows(list []string, team string) bool {
	for _, t := range list {
		if t == "*" || t == team {
			return true
		}
	}
	return false
}

func (d TeamDelegation) AllowsAdditionalPlugins(team string) bool {
	return d.allows(d.AllowAdditionalPlugins, team)
}

func (d TeamDelegation) AllowsAdditionalMCPServers(team string) bool {
	return d.allows(d.AllowAdditionalMCPServers, team)
}

func (d TeamDelegation) AllowsAdditionalMarketplaces(team string) bool {
	return d.allows(d.AllowAdditionalMarketplaces, team)
}

// Defaults holds the organization-wide plugin/marketplace defaults applied
// before any team profile.
type Defaults struct {
	EnabledPlugins        []string `json:"enabled_plugins,omitempty"`
	AllowedPlugins        []string `json:"allowed_plugins,omitempty"`
	ExtraMarketplaces     []string `json:"extra_marketplaces,omitempty"`
	AllowStdioMCP         bool     `json:"allow_stdio_mcp,omitempty"`
	AllowedStdioPrefixes  []string `json:"allowed_stdio_prefixes,omitempty"`
}

// TeamTrust governs a federated team profile's config_source.
type TeamTrust struct {
	InheritOrgMarketplaces   bool     `json:"inherit_org_marketplaces"`
	AllowAdditionalMarketplaces bool  `json:"allow_additional_marketplaces"`
	MarketplaceSourcePatterns []string `json:"marketplace_source_patterns,omitempty"`
}

// TeamDelegationGrant is the project-facing half of delegation: whether this
// team lets its own projects add anything at all.
type TeamDelegationGrant struct {
	AllowProjectOverrides bool `json:"allow_project_overrides"`
}

// TeamProfile is a named team's additions/removals layered on Defaults.
type TeamProfile struct {
	Description           string             `json:"description,omitempty"`
	AdditionalPlugins     []string           `json:"additional_plugins,omitempty"`
	DisabledPlugins       []string           `json:"disabled_plugins,omitempty"`
	AdditionalMCPServers  []MCPServer        `json:"additional_mcp_servers,omitempty"`
	ExtraMarketplaces     []string           `json:"extra_marketplaces,omitempty"`
	ConfigSource          *MarketplaceSource `json:"config_source,omitempty"`
	Trust                 TeamTrust          `json:"trust,omitempty"`
	Delegation            TeamDelegationGrant `json:"delegation,omitempty"`
	SessionTimeoutHours    *int              `json:"session_timeout_hours,omitempty"`
}

// MCPServer describes an MCP server addition at any layer.
type MCPServer struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // "stdio" | "http" | "sse"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// ProjectConfig is the optional repo-local `.scc.yaml` config, only honored
// when the team grants allow_project_overrides.
type ProjectConfig struct {
	AdditionalPlugins    []string    `yaml:"additional_plugins,omitempty" json:"additional_plugins,omitempty"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers,omitempty" json:"additional_mcp_servers,omitempty"`
	Session              struct {
		TimeoutHours int `yaml:"timeout_hours,omitempty" json:"timeout_hours,omitempty"`
	} `yaml:"session,omitempty" json:"session,omitempty"`
}

// Organization identifies the org an OrganizationConfig belongs to.
type Organization struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// OrganizationConfig is the full, immutable-after-load org policy document
// (spec §3, §6).
type OrganizationConfig struct {
	Organization Organization                 `json:"organization"`
	Marketplaces map[string]MarketplaceEntry   `json:"marketplaces"`
	Defaults     Defaults                     `json:"defaults"`
	Profiles     map[string]TeamProfile        `json:"profiles"`
	Security     Security                     `json:"security"`
	Delegation   Delegation                   `json:"delegation"`
}

// MarketplaceNames returns the org's declared marketplace names, in sorted
// order for deterministic error messages.
func (c OrganizationConfig) MarketplaceNames() []string {
	names := make([]string, 0, len(c.Marketplaces))
	for name := range c.Marketplaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
