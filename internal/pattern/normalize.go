// Package pattern implements plugin-reference normalization and
// case-insensitive glob matching (spec §4.1).
package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ccimen/scc/internal/scerr"
)

// ImplicitOfficial is the built-in marketplace name that is always available
// and never emitted as a directory source.
const ImplicitOfficial = "claude-plugins-official"

// Ref is a normalized plugin reference: both components are preserved in
// their original case for display; matching uses case-folded forms.
type Ref struct {
	Name        string
	Marketplace string
}

// String renders the canonical "name@marketplace" form.
func (r Ref) String() string {
	return r.Name + "@" + r.Marketplace
}

// Normalize implements spec §4.1's six-rule resolution.
//
// orgMarketplaces is the set of marketplace names declared by the
// organization config (case-sensitive keys as written in config).
// blockedImplicit reports whether the org has blocked the implicit
// marketplace via security.block_implicit_marketplaces.
func Normalize(ref string, orgMarketplaces []string, blockedImplicit bool) (Ref, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return Ref{}, scerr.NewUsageError("plugin reference is empty", "provide a non-empty plugin reference")
	}

	var name, marketplace string
	hadMarketplace := false

	switch {
	case strings.HasPrefix(trimmed, "@"):
		rest := trimmed[1:]
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return Ref{}, scerr.NewUsageError(fmt.Sprintf("malformed reference %q: expected @marketplace/name", ref), "use the form @marketplace/name")
		}
		marketplace, name = rest[:idx], rest[idx+1:]
		if marketplace == "" || name == "" {
			return Ref{}, scerr.NewUsageError(fmt.Sprintf("malformed reference %q: marketplace and name must be non-empty", ref), "use the form @marketplace/name")
		}
		hadMarketplace = true

	case strings.Contains(trimmed, "@"):
		idx := strings.LastIndex(trimmed, "@")
		name, marketplace = trimmed[:idx], trimmed[idx+1:]
		if name == "" || marketplace == "" {
			return Ref{}, scerr.NewUsageError(fmt.Sprintf("malformed reference %q: name and marketplace must be non-empty", ref), "use the form name@marketplace")
		}
		hadMarketplace = true

	default:
		name = trimmed
	}

	if hadMarketplace {
		if err := validateMarketplace(marketplace, orgMarketplaces, blockedImplicit); err != nil {
			return Ref{}, err
		}
		return Ref{Name: name, Marketplace: marketplace}, nil
	}

	assumed, err := autoAssumeMarketplace(orgMarketplaces, blockedImplicit)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Name: name, Marketplace: assumed}, nil
}

func validateMarketplace(marketplace string, orgMarketplaces []string, blockedImplicit bool) error {
	if containsFold(orgMarketplaces, marketplace) {
		return nil
	}
	if strings.EqualFold(marketplace, ImplicitOfficial) {
		if blockedImplicit {
			return scerr.NewConfigError(
				fmt.Sprintf("marketplace %q is the implicit official marketplace, which this organization has blocked", marketplace),
				"add an explicit marketplace entry or remove block_implicit_marketplaces",
			)
		}
		return nil
	}
	return scerr.NewConfigError(
		fmt.Sprintf("unknown marketplace %q", marketplace),
		fmt.Sprintf("known marketplaces: %s", strings.Join(orgMarketplaces, ", ")),
	)
}

// autoAssumeMarketplace applies rule 5: implicit marketplaces never count
// toward the "exactly one" decision.
func autoAssumeMarketplace(orgMarketplaces []string, blockedImplicit bool) (string, error) {
	explicit := make([]string, 0, len(orgMarketplaces))
	for _, m := range orgMarketplaces {
		if !strings.EqualFold(m, ImplicitOfficial) {
			explicit = append(explicit, m)
		}
	}

	switch {
	case len(explicit) == 1:
		return explicit[0], nil
	case len(explicit) == 0 && !blockedImplicit:
		return ImplicitOfficial, nil
	default:
		sorted := append([]string(nil), explicit...)
		sort.Strings(sorted)
		return "", scerr.NewConfigError(
			fmt.Sprintf("ambiguous plugin reference: no marketplace specified and %d candidates exist", len(sorted)),
			fmt.Sprintf("specify one of: %s", strings.Join(sorted, ", ")),
		)
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
