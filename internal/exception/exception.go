// Package exception implements the time-bounded exception store (spec §4.2)
// and its overlay onto a computed effective config.
package exception

import (
	"time"

	"github.com/ccimen/scc/internal/scerr"
)

// Scope distinguishes where an exception was granted, which bounds what it
// may unblock.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopePolicy Scope = "policy"
)

// BlockReason identifies why a plugin, MCP server, or base image addition
// was denied, so an overlay knows which exceptions are eligible to clear it.
type BlockReason string

const (
	ReasonSecurity   BlockReason = "security"
	ReasonDelegation BlockReason = "delegation"
	ReasonNotAllowed BlockReason = "not_allowed"
)

// Allow lists the references an exception permits, by category.
type Allow struct {
	Plugins     []string `json:"plugins,omitempty"`
	MCPServers  []string `json:"mcp_servers,omitempty"`
	BaseImages  []string `json:"base_images,omitempty"`
}

// Exception grants a time-bounded override of a policy denial.
type Exception struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
	Allow     Allow     `json:"allow"`
}

// Validate checks the invariants spec.md §3 places on a single Exception:
// expires_at must be after created_at, and the scope must be recognized.
func (e Exception) Validate() error {
	if e.ID == "" {
		return scerr.NewConfigError("exception.id is required", "assign a unique id to the exception")
	}
	if e.Scope != ScopeLocal && e.Scope != ScopePolicy {
		return scerr.NewConfigError(
			"exception.scope must be 'local' or 'policy'",
			"set scope to local or policy",
		)
	}
	if !e.ExpiresAt.After(e.CreatedAt) {
		return scerr.NewConfigError(
			"exception.expires_at must be after created_at",
			"set expires_at to a time after created_at",
		)
	}
	return nil
}

// Expired reports whether the exception's window has closed at now.
func (e Exception) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// allowsCategory reports whether list contains candidate, by exact string
// equality; entries are not treated as glob patterns. Callers pass the
// already-normalized candidate string.
func allowsCategory(list []string, candidate string) bool {
	for _, entry := range list {
		if entry == candidate {
			return true
		}
	}
	return false
}

// AllowsPlugin reports whether this exception's allow list covers candidate
// (a normalized "name@marketplace" ref, matched exactly).
func (e Exception) AllowsPlugin(candidate string) bool {
	return allowsCategory(e.Allow.Plugins, candidate)
}

// AllowsMCPServer reports whether this exception's allow list covers the
// named MCP server.
func (e Exception) AllowsMCPServer(candidate string) bool {
	return allowsCategory(e.Allow.MCPServers, candidate)
}

// AllowsBaseImage reports whether this exception's allow list covers the
// image reference.
func (e Exception) AllowsBaseImage(candidate string) bool {
	return allowsCategory(e.Allow.BaseImages, candidate)
}

// CanClear reports whether, purely by scope, this exception is eligible to
// clear a denial of the given reason. Policy-scope exceptions may clear any
// reason; local-scope exceptions may only clear delegation denials (spec
// §3, §4.2).
func (e Exception) CanClear(reason BlockReason) bool {
	if e.Scope == ScopePolicy {
		return true
	}
	return reason == ReasonDelegation
}
