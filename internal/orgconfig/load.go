package orgconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccimen/scc/internal/scerr"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the organization config document at path (JSON,
// spec §6 schema). A missing file is not an error: callers that require an
// org config check for nil.
func Load(path string) (*OrganizationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading org config %s", path), err)
	}

	var cfg OrganizationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("parsing org config %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field-level invariants the JSON decode alone can't enforce:
// required organization identifiers, well-formed marketplace sources,
// profile config sources, a positive session timeout and a known safety-net
// action. Profiles are not cross-checked against the declared marketplaces.
func (c *OrganizationConfig) Validate() error {
	if strings.TrimSpace(c.Organization.ID) == "" {
		return scerr.NewConfigError("organization.id is required", "set organization.id in the org config")
	}
	if strings.TrimSpace(c.Organization.Name) == "" {
		return scerr.NewConfigError("organization.name is required", "set organization.name in the org config")
	}

	for name, entry := range c.Marketplaces {
		if err := validateMarketplaceSource(fmt.Sprintf("marketplaces.%s", name), entry.Source); err != nil {
			return err
		}
	}

	for team, profile := range c.Profiles {
		if profile.ConfigSource != nil {
			if err := validateMarketplaceSource(fmt.Sprintf("profiles.%s.config_source", team), *profile.ConfigSource); err != nil {
				return err
			}
		}
		if profile.SessionTimeoutHours != nil && *profile.SessionTimeoutHours <= 0 {
			return scerr.NewConfigError(
				fmt.Sprintf("profiles.%s.session_timeout_hours must be positive, got %d", team, *profile.SessionTimeoutHours),
				"remove the override to inherit the default timeout, or set a positive number of hours",
			)
		}
	}

	if c.Security.SafetyNet != nil {
		switch c.Security.SafetyNet.Action {
		case "block", "warn", "allow":
		default:
			return scerr.NewConfigError(
				fmt.Sprintf("security.safety_net.action must be 'block', 'warn', or 'allow', got %q", c.Security.SafetyNet.Action),
				"set security.safety_net.action to one of: block, warn, allow",
			)
		}
	}

	return nil
}

// validateMarketplaceSource enforces spec §6's "url and git sources must use
// HTTPS unless the source is directory or file" invariant, plus the required
// fields per source kind.
func validateMarketplaceSource(field string, src MarketplaceSource) error {
	switch src.Source {
	case SourceGitHub:
		if src.Repo == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.repo is required for source=github", field), "set repo to \"owner/name\"")
		}
	case SourceGit:
		if src.URL == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.url is required for source=git", field), "set url to an https:// git remote")
		}
		if !strings.HasPrefix(strings.ToLower(src.URL), "https://") {
			return scerr.NewConfigError(fmt.Sprintf("%s.url must be HTTPS, got %q", field, src.URL), "use an https:// URL")
		}
	case SourceURL:
		if src.URL == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.url is required for source=url", field), "set url to an https:// location")
		}
		if !strings.HasPrefix(strings.ToLower(src.URL), "https://") {
			return scerr.NewConfigError(fmt.Sprintf("%s.url must be HTTPS, got %q", field, src.URL), "use an https:// URL")
		}
		switch src.Materialization {
		case "", MaterializationSelfContained, MaterializationMetadataOnly, MaterializationBestEffort:
		default:
			return scerr.NewConfigError(fmt.Sprintf("%s.materialization %q is not recognized", field, src.Materialization), "use self_contained, metadata_only, or best_effort")
		}
	case SourceDirectory, SourceFile:
		if src.Path == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.path is required for source=%s", field, src.Source), "set path to a local filesystem location")
		}
	case SourceNPM:
		if src.Package == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.package is required for source=npm", field), "set package to the npm package name")
		}
	default:
		return scerr.NewConfigError(fmt.Sprintf("%s.source %q is not recognized", field, src.Source), "use one of: github, git, url, directory, file, npm")
	}
	return nil
}

// LoadProjectConfig reads the optional repo-local .scc.yaml. A missing file
// is not an error and returns (nil, nil); callers gate its use on the
// owning team's delegation.allow_project_overrides grant.
func LoadProjectConfig(repoRoot string) (*ProjectConfig, error) {
	path := filepath.Join(repoRoot, ".scc.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, scerr.WrapConfigError(fmt.Sprintf("reading %s", path), err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, scerr.WrapConfigError(fmt.Sprintf("parsing %s", path), err)
	}

	for i, mcp := range cfg.AdditionalMCPServers {
		if err := validateMCPServer(fmt.Sprintf("additional_mcp_servers[%d]", i), mcp); err != nil {
			return nil, err
		}
	}
	if cfg.Session.TimeoutHours < 0 {
		return nil, scerr.NewConfigError(
			fmt.Sprintf("session.timeout_hours must be non-negative, got %d", cfg.Session.TimeoutHours),
			"remove the override or set a non-negative number of hours",
		)
	}

	return &cfg, nil
}

func validateMCPServer(field string, m MCPServer) error {
	if m.Name == "" {
		return scerr.NewConfigError(fmt.Sprintf("%s.name is required", field), "give the MCP server entry a name")
	}
	switch m.Transport {
	case "stdio":
		if m.Command == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.command is required for transport=stdio", field), "set command to the executable to launch")
		}
	case "http", "sse":
		if m.URL == "" {
			return scerr.NewConfigError(fmt.Sprintf("%s.url is required for transport=%s", field, m.Transport), "set url to the server endpoint")
		}
	default:
		return scerr.NewConfigError(fmt.Sprintf("%s.transport %q is not recognized", field, m.Transport), "use stdio, http, or sse")
	}
	return nil
}
