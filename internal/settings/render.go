package settings

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/pattern"
	"github.com/ccimen/scc/internal/policy"
	"github.com/ccimen/scc/internal/scerr"
)

// MarketplaceDir maps a marketplace name to the workspace-relative
// directory its content was materialized into, e.g.
// ".claude/.scc-marketplaces/<name>".
type MarketplaceDir map[string]string

// Render turns an EffectiveConfig into the settings fragment spec §4.6
// describes: a directory source per referenced non-implicit marketplace,
// an enabledPlugins map, and an mcpServers map for any MCP servers that
// survived policy evaluation. Every path written is workspace-relative;
// Render refuses to emit an absolute path.
func Render(effective *policy.EffectiveConfig, dirs MarketplaceDir) (Document, error) {
	marketplaces := map[string]MarketplaceEntry{}
	enabledPlugins := map[string]bool{}

	names := map[string]bool{}
	for _, ref := range effective.Enabled {
		enabledPlugins[ref.String()] = true
		if ref.Marketplace != pattern.ImplicitOfficial {
			names[ref.Marketplace] = true
		}
	}
	for name := range names {
		dir, ok := dirs[name]
		if !ok {
			return nil, scerr.NewStateError(fmt.Sprintf("no materialized directory recorded for marketplace %q", name))
		}
		if path.IsAbs(dir) {
			return nil, scerr.NewStateError(fmt.Sprintf("marketplace %q resolved to an absolute path %q, refusing to render", name, dir))
		}
		marketplaces[name] = MarketplaceEntry{Source: MarketplaceSource{Source: "directory", Path: dir}}
	}

	mcpServers := map[string]MCPServerEntry{}
	for _, srv := range effective.MCPServers {
		mcpServers[srv.Name] = renderMCPServer(srv)
	}

	doc := Document{}
	if len(enabledPlugins) > 0 {
		if err := setKey(doc, KeyEnabledPlugins, enabledPlugins); err != nil {
			return nil, err
		}
	}
	if len(marketplaces) > 0 {
		if err := setKey(doc, KeyExtraMarketplaces, marketplaces); err != nil {
			return nil, err
		}
	}
	if len(mcpServers) > 0 {
		if err := setKey(doc, KeyMCPServers, mcpServers); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func renderMCPServer(srv orgconfig.MCPServer) MCPServerEntry {
	switch srv.Transport {
	case "http", "sse":
		return MCPServerEntry{Type: srv.Transport, URL: srv.URL}
	default:
		return MCPServerEntry{Command: srv.Command, Args: srv.Args, Env: srv.Env}
	}
}

func setKey(doc Document, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding settings key %q: %w", key, err)
	}
	doc[key] = data
	return nil
}

// sortedKeys is used by tests and diagnostics that want deterministic
// enumeration of a fragment's top-level keys.
func sortedKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
