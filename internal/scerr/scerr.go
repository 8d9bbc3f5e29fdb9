// Package scerr defines the error taxonomy used across the core packages
// and the stable exit-code contract surfaced by cmd/scc.
package scerr

import "fmt"

// Exit codes, stable contract.
const (
	ExitSuccess       = 0
	ExitGeneral       = 1
	ExitUsage         = 2
	ExitPrerequisite  = 3
	ExitExternalTool  = 4
	ExitInternal      = 5
	ExitBlockedPolicy = 6
	ExitCancelled     = 130
)

// Kind identifies which taxonomy member an error belongs to, for callers
// that want to branch on error class without a type switch.
type Kind string

const (
	KindUsage        Kind = "usage"
	KindPrerequisite Kind = "prerequisite"
	KindConfig       Kind = "config"
	KindPolicy       Kind = "policy"
	KindDelegation   Kind = "delegation"
	KindTool         Kind = "tool"
	KindNetwork      Kind = "network"
	KindState        Kind = "state"
)

// Error is satisfied by every member of the taxonomy.
type Error interface {
	error
	Kind() Kind
	ExitCode() int
	Suggestion() string
}

// base carries the fields common to every taxonomy member.
type base struct {
	message    string
	suggested  string
	wrapped    error
}

func (b base) Error() string {
	if b.wrapped != nil {
		return fmt.Sprintf("%s: %v", b.message, b.wrapped)
	}
	return b.message
}

func (b base) Unwrap() error { return b.wrapped }

func (b base) Suggestion() string { return b.suggested }

// UsageError — malformed arguments, missing required values. Exit 2.
type UsageError struct{ base }

func (UsageError) Kind() Kind     { return KindUsage }
func (UsageError) ExitCode() int  { return ExitUsage }

func NewUsageError(message, suggestion string) UsageError {
	return UsageError{base{message: message, suggested: suggestion}}
}

// PrerequisiteError — container runtime absent or too old, git absent. Exit 3.
type PrerequisiteError struct{ base }

func (PrerequisiteError) Kind() Kind    { return KindPrerequisite }
func (PrerequisiteError) ExitCode() int { return ExitPrerequisite }

func NewPrerequisiteError(message, suggestion string) PrerequisiteError {
	return PrerequisiteError{base{message: message, suggested: suggestion}}
}

// ConfigError — unparseable config, HTTPS required, auth spec invalid,
// schema violation. Exit 3.
type ConfigError struct{ base }

func (ConfigError) Kind() Kind    { return KindConfig }
func (ConfigError) ExitCode() int { return ExitPrerequisite }

func NewConfigError(message, suggestion string) ConfigError {
	return ConfigError{base{message: message, suggested: suggestion}}
}

func WrapConfigError(message string, err error) ConfigError {
	return ConfigError{base{message: message, wrapped: err}}
}

// PolicyError — blocked by org policy with no applicable exception. Exit 6;
// message names the matched pattern and source layer.
type PolicyError struct {
	base
	Pattern string
	Layer   string
}

func (PolicyError) Kind() Kind    { return KindPolicy }
func (PolicyError) ExitCode() int { return ExitBlockedPolicy }

func NewPolicyError(message, pattern, layer string) PolicyError {
	return PolicyError{base: base{message: message}, Pattern: pattern, Layer: layer}
}

// DelegationError — an addition was not delegated. Exit 6; message names the
// missing delegation.
type DelegationError struct {
	base
	Team string
}

func (DelegationError) Kind() Kind    { return KindDelegation }
func (DelegationError) ExitCode() int { return ExitBlockedPolicy }

func NewDelegationError(message, team string) DelegationError {
	return DelegationError{base: base{message: message}, Team: team}
}

// ToolError — external subprocess (runtime/git) returned non-zero or timed
// out. Exit 4.
type ToolError struct {
	base
	Tool string
}

func (ToolError) Kind() Kind    { return KindTool }
func (ToolError) ExitCode() int { return ExitExternalTool }

func WrapToolError(tool, message string, err error) ToolError {
	return ToolError{base: base{message: message, wrapped: err}, Tool: tool}
}

// NetworkError — remote fetch failed; if stale cache exists, the caller may
// fall back with a warning. Exit 3 on non-recoverable.
type NetworkError struct {
	base
	Recoverable bool
}

func (NetworkError) Kind() Kind    { return KindNetwork }
func (NetworkError) ExitCode() int { return ExitPrerequisite }

func WrapNetworkError(message string, err error, recoverable bool) NetworkError {
	return NetworkError{base: base{message: message, wrapped: err}, Recoverable: recoverable}
}

// StateError — invariant violation that should not occur in a correct
// deployment. Exit 5.
type StateError struct{ base }

func (StateError) Kind() Kind    { return KindState }
func (StateError) ExitCode() int { return ExitInternal }

func NewStateError(message string) StateError {
	return StateError{base{message: message}}
}

// ExitCodeFor returns the stable exit code for any error, falling back to
// ExitGeneral for errors outside this taxonomy.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var sc Error
	if asScErr(err, &sc) {
		return sc.ExitCode()
	}
	return ExitGeneral
}

// asScErr is a small local errors.As to avoid importing "errors" just for
// this one call site's generic instantiation needs (Go's errors.As works
// fine with an interface target, but we keep this named for clarity at call
// sites that don't otherwise import errors).
func asScErr(err error, target *Error) bool {
	for err != nil {
		if sc, ok := err.(Error); ok {
			*target = sc
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
