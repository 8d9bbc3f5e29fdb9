package policy

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ccimen/scc/internal/exception"
	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/pattern"
	"github.com/ccimen/scc/internal/scerr"
)

// Compute runs spec §4.4's compute_effective_config pipeline: normalize,
// union, filter by org allow/deny lists, enforce delegation, apply security
// blocks, overlay exceptions, then assemble the MCP server set.
//
// Only normalization errors are fatal and abort the whole computation. Every
// later check (the allowed-set filter, delegation, security, MCP path checks)
// demotes the offending item into Denied/Blocked instead of aborting.
func Compute(in Input) (*EffectiveConfig, error) {
	org := in.Org
	orgMarketplaces := org.MarketplaceNames()
	blockedImplicit := org.Security.BlockImplicitMarketplaces

	team, teamKnown := org.Profiles[in.Team]

	out := &EffectiveConfig{}

	// Steps 1-2: normalize each layer's plugin additions and union into
	// enabled, tagging each with its contributing layer so step 5 can apply
	// the right delegation gate.
	var enabled []enabledEntry
	addNormalized := func(refs []string, layer Layer) error {
		for _, raw := range refs {
			ref, err := pattern.Normalize(raw, orgMarketplaces, blockedImplicit)
			if err != nil {
				return scerr.WrapConfigError(fmt.Sprintf("normalizing %s plugin reference %q", layer, raw), err)
			}
			if !containsRef(enabled, ref) {
				enabled = append(enabled, enabledEntry{ref: ref, layer: layer})
			}
		}
		return nil
	}
	if err := addNormalized(org.Defaults.EnabledPlugins, LayerOrg); err != nil {
		return nil, err
	}
	if teamKnown {
		if err := addNormalized(team.AdditionalPlugins, LayerTeam); err != nil {
			return nil, err
		}
	}
	if in.Project != nil {
		if err := addNormalized(in.Project.AdditionalPlugins, LayerProject); err != nil {
			return nil, err
		}
	}

	var mcpEntries []mcpEntry
	if teamKnown {
		for _, m := range team.AdditionalMCPServers {
			mcpEntries = append(mcpEntries, mcpEntry{server: m, layer: LayerTeam})
		}
	}
	if in.Project != nil {
		for _, m := range in.Project.AdditionalMCPServers {
			mcpEntries = append(mcpEntries, mcpEntry{server: m, layer: LayerProject})
		}
	}

	var (
		pendingDenials []exception.Denial
		removedPlugins = map[string]enabledEntry{}
		removedMCP     = map[string]mcpEntry{}
	)
	denyPlugin := func(e enabledEntry, reason exception.BlockReason, pattern_ string) {
		removedPlugins[e.ref.String()] = e
		pendingDenials = append(pendingDenials, exception.Denial{
			Ref: e.ref.String(), Reason: reason, Category: exception.CategoryPlugin,
			Pattern: pattern_, Layer: string(e.layer),
		})
	}
	denyMCP := func(m mcpEntry, reason exception.BlockReason, pattern_ string) {
		removedMCP[m.server.Name] = m
		pendingDenials = append(pendingDenials, exception.Denial{
			Ref: m.server.Name, Reason: reason, Category: exception.CategoryMCPServer,
			Pattern: pattern_, Layer: string(m.layer),
		})
	}

	// Step 3: remove entries matching the team's disabled_plugins. Not
	// subject to exception overlay; the team withdrew these itself.
	if teamKnown && len(team.DisabledPlugins) > 0 {
		kept := enabled[:0:0]
		for _, e := range enabled {
			if p, matched := pattern.MatchesAny(e.ref, team.DisabledPlugins); matched {
				out.Decisions = append(out.Decisions, Decision{Field: "disabled_plugins", Value: e.ref.String() + " (" + p + ")", Source: LayerTeam})
				continue
			}
			kept = append(kept, e)
		}
		enabled = kept
	}

	// Step 4: if defaults.allowed_plugins is non-empty, retain only entries
	// matching an allowed pattern; everything else is denied.
	if len(org.Defaults.AllowedPlugins) > 0 {
		kept := enabled[:0:0]
		for _, e := range enabled {
			if _, matched := pattern.MatchesAny(e.ref, org.Defaults.AllowedPlugins); matched {
				kept = append(kept, e)
				continue
			}
			denyPlugin(e, exception.ReasonNotAllowed, "")
		}
		enabled = kept
	}

	// Step 5: enforce delegation for team/project-layer additions.
	pluginsDelegated := teamKnown && org.Delegation.Teams.AllowsAdditionalPlugins(in.Team)
	mcpDelegated := teamKnown && org.Delegation.Teams.AllowsAdditionalMCPServers(in.Team)
	projectOverridesAllowed := teamKnown && team.Delegation.AllowProjectOverrides

	kept := enabled[:0:0]
	for _, e := range enabled {
		switch e.layer {
		case LayerOrg:
			kept = append(kept, e)
		case LayerTeam:
			if pluginsDelegated {
				kept = append(kept, e)
			} else {
				denyPlugin(e, exception.ReasonDelegation, "")
			}
		case LayerProject:
			if pluginsDelegated && projectOverridesAllowed {
				kept = append(kept, e)
			} else {
				denyPlugin(e, exception.ReasonDelegation, "")
			}
		}
	}
	enabled = kept

	keptMCP := mcpEntries[:0:0]
	for _, m := range mcpEntries {
		switch m.layer {
		case LayerTeam:
			if mcpDelegated {
				keptMCP = append(keptMCP, m)
			} else {
				denyMCP(m, exception.ReasonDelegation, "")
			}
		case LayerProject:
			if mcpDelegated && projectOverridesAllowed {
				keptMCP = append(keptMCP, m)
			} else {
				denyMCP(m, exception.ReasonDelegation, "")
			}
		}
	}
	mcpEntries = keptMCP

	// Step 6: apply org security blocks: plugins, base image, MCP servers by
	// name (the URL-host half of the MCP check is step 9, below).
	kept = enabled[:0:0]
	for _, e := range enabled {
		if p, matched := pattern.MatchesAny(e.ref, org.Security.BlockedPlugins); matched {
			denyPlugin(e, exception.ReasonSecurity, p)
			continue
		}
		kept = append(kept, e)
	}
	enabled = kept

	if in.ImageRef != "" {
		if p, matched := pattern.MatchesAnyImage(in.ImageRef, org.Security.BlockedBaseImages); matched {
			pendingDenials = append(pendingDenials, exception.Denial{
				Ref: in.ImageRef, Reason: exception.ReasonSecurity,
				Category: exception.CategoryBaseImage, Pattern: p, Layer: string(LayerOrg),
			})
		}
	}

	keptMCP = mcpEntries[:0:0]
	for _, m := range mcpEntries {
		if p, matched := matchesAnyGlob(m.server.Name, org.Security.BlockedMCPServers); matched {
			denyMCP(m, exception.ReasonSecurity, p)
			continue
		}
		keptMCP = append(keptMCP, m)
	}
	mcpEntries = keptMCP

	// Step 7: overlay exceptions: policy scope first (clears anything),
	// then local scope (delegation denials only).
	remaining, cleared := exception.Overlay(pendingDenials, in.Exceptions)

	seenExceptionID := map[string]struct{}{}
	for _, c := range cleared {
		if _, ok := seenExceptionID[c.ExceptionID]; !ok {
			seenExceptionID[c.ExceptionID] = struct{}{}
			out.ExceptionsApplied = append(out.ExceptionsApplied, c.ExceptionID)
		}
		out.Decisions = append(out.Decisions, Decision{Field: "exception_cleared", Value: c.Denial.Ref, Source: Layer(c.Denial.Layer)})
		switch c.Denial.Category {
		case exception.CategoryPlugin:
			if e, ok := removedPlugins[c.Denial.Ref]; ok {
				enabled = append(enabled, e)
			}
		case exception.CategoryMCPServer:
			if m, ok := removedMCP[c.Denial.Ref]; ok {
				mcpEntries = append(mcpEntries, m)
			}
		}
	}

	for _, d := range remaining {
		if d.Reason == exception.ReasonSecurity {
			out.Blocked = append(out.Blocked, Blocked{Ref: d.Ref, Pattern: d.Pattern, Layer: Layer(d.Layer), Category: d.Category})
		} else {
			out.Denied = append(out.Denied, Denied{Ref: d.Ref, Reason: string(d.Reason), Category: d.Category})
		}
		out.Decisions = append(out.Decisions, Decision{Field: string(d.Category), Value: d.Ref, Source: Layer(d.Layer)})
	}

	for _, e := range enabled {
		out.Enabled = append(out.Enabled, e.ref)
		out.Decisions = append(out.Decisions, Decision{Field: "enabled_plugins", Value: e.ref.String(), Source: e.layer})
	}

	// Step 8: build mcp_servers, validating stdio command paths.
	for _, m := range mcpEntries {
		if m.server.Transport == "stdio" {
			if !org.Security.AllowStdioMCP {
				out.Denied = append(out.Denied, Denied{Ref: m.server.Name, Reason: "stdio MCP servers are disabled", Category: exception.CategoryMCPServer})
				out.Decisions = append(out.Decisions, Decision{Field: "mcp_servers", Value: m.server.Name + " (stdio disabled)", Source: LayerOrg})
				continue
			}
			if len(org.Security.AllowedStdioPrefixes) > 0 {
				ok, err := resolvesUnderPrefix(m.server.Command, org.Security.AllowedStdioPrefixes)
				if err != nil || !ok {
					out.Denied = append(out.Denied, Denied{Ref: m.server.Name, Reason: "stdio command does not resolve under an allowed prefix", Category: exception.CategoryMCPServer})
					out.Decisions = append(out.Decisions, Decision{Field: "mcp_servers", Value: m.server.Name + " (path rejected)", Source: m.layer})
					continue
				}
			}
		}
		out.MCPServers = append(out.MCPServers, m.server)
		out.Decisions = append(out.Decisions, Decision{Field: "mcp_servers", Value: m.server.Name, Source: m.layer})
	}

	// Step 9: for HTTP/SSE servers, additionally block on URL host.
	if len(org.Security.BlockedMCPServers) > 0 {
		keptServers := out.MCPServers[:0:0]
		for _, s := range out.MCPServers {
			if s.Transport != "http" && s.Transport != "sse" {
				keptServers = append(keptServers, s)
				continue
			}
			host := ""
			if u, err := url.Parse(s.URL); err == nil {
				host = u.Host
			}
			if p, matched := matchesAnyGlob(host, org.Security.BlockedMCPServers); host != "" && matched {
				out.Blocked = append(out.Blocked, Blocked{Ref: s.Name, Pattern: p, Layer: LayerOrg, Category: exception.CategoryMCPServer})
				out.Decisions = append(out.Decisions, Decision{Field: "mcp_servers", Value: s.Name + " (blocked host " + host + ")", Source: LayerOrg})
				continue
			}
			keptServers = append(keptServers, s)
		}
		out.MCPServers = keptServers
	}

	out.ExtraMarketplaces = collectExtraMarketplaces(org, in.Team, team, teamKnown)

	return out, nil
}

func containsRef(entries []enabledEntry, ref pattern.Ref) bool {
	for _, e := range entries {
		if e.ref == ref {
			return true
		}
	}
	return false
}

// collectExtraMarketplaces unions defaults.extra_marketplaces with the
// team's own extra_marketplaces, the latter gated by the same
// allow_additional_marketplaces delegation grant as the team profile's
// config_source federation.
func collectExtraMarketplaces(org *orgconfig.OrganizationConfig, teamName string, team orgconfig.TeamProfile, teamKnown bool) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, m := range org.Defaults.ExtraMarketplaces {
		add(m)
	}
	if teamKnown && org.Delegation.Teams.AllowsAdditionalMarketplaces(teamName) {
		for _, m := range team.ExtraMarketplaces {
			add(m)
		}
	}
	return out
}

// matchesAnyGlob is MatchesAny's counterpart for bare strings (MCP server
// names and URL hosts), which don't carry the "name@marketplace" or
// image-tag conventions pattern.MatchesAny/MatchesImage assume.
func matchesAnyGlob(candidate string, patterns []string) (string, bool) {
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			continue
		}
		if g.Match(strings.ToLower(candidate)) {
			return p, true
		}
	}
	return "", false
}

// resolvesUnderPrefix reports whether command, once made absolute and
// cleaned, resolves under one of prefixes without escaping it via ".."
// components.
func resolvesUnderPrefix(command string, prefixes []string) (bool, error) {
	abs, err := filepath.Abs(command)
	if err != nil {
		return false, err
	}
	abs = filepath.Clean(abs)
	for _, prefix := range prefixes {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		absPrefix = filepath.Clean(absPrefix)
		rel, err := filepath.Rel(absPrefix, abs)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true, nil
	}
	return false, nil
}
