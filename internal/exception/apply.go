package exception

// Denial is the minimal shape the policy engine's effective-config pipeline
// needs from the overlay step (spec §4.4 step 7): a denied or blocked
// reference, why it was denied, and which category it belongs to so the
// right exception allow-list is consulted.
type Denial struct {
	Ref      string
	Reason   BlockReason
	Category Category
	Pattern  string
	Layer    string
}

// Category identifies which EffectiveConfig list a Denial would have landed
// in before the overlay: plugin, MCP server, or base image.
type Category string

const (
	CategoryPlugin    Category = "plugin"
	CategoryMCPServer Category = "mcp_server"
	CategoryBaseImage Category = "base_image"
)

// Cleared records that an exception cleared a Denial, for EffectiveConfig's
// exceptions_applied ledger.
type Cleared struct {
	Denial      Denial
	ExceptionID string
}

// Overlay applies exceptions to denials in the order spec §4.4 step 7
// requires: all policy-scope exceptions first (which may clear any
// reason), then all local-scope exceptions (which may only clear
// delegation denials). It returns the denials that remain after the
// overlay and the list of denials that were cleared, each paired with the
// exception that cleared it.
//
// Exceptions are not mutated and not consumed: the same exception can
// clear multiple matching denials within one call, matching spec.md's
// "may unblock any denial" phrasing (no count/quota semantics in §4.2).
func Overlay(denials []Denial, exceptions []Exception) (remaining []Denial, cleared []Cleared) {
	policyExceptions, localExceptions := splitByScope(exceptions)

	remaining = denials
	var pass []Cleared
	remaining, pass = applyPass(remaining, policyExceptions)
	cleared = append(cleared, pass...)
	remaining, pass = applyPass(remaining, localExceptions)
	cleared = append(cleared, pass...)
	return remaining, cleared
}

func splitByScope(exceptions []Exception) (policy, local []Exception) {
	for _, e := range exceptions {
		switch e.Scope {
		case ScopePolicy:
			policy = append(policy, e)
		case ScopeLocal:
			local = append(local, e)
		}
	}
	return policy, local
}

func applyPass(denials []Denial, exceptions []Exception) (remaining []Denial, cleared []Cleared) {
	remaining = make([]Denial, 0, len(denials))
	for _, d := range denials {
		if ex, ok := firstMatch(d, exceptions); ok {
			cleared = append(cleared, Cleared{Denial: d, ExceptionID: ex.ID})
			continue
		}
		remaining = append(remaining, d)
	}
	return remaining, cleared
}

func firstMatch(d Denial, exceptions []Exception) (Exception, bool) {
	for _, e := range exceptions {
		if !e.CanClear(d.Reason) {
			continue
		}
		if allows(e, d) {
			return e, true
		}
	}
	return Exception{}, false
}

func allows(e Exception, d Denial) bool {
	switch d.Category {
	case CategoryPlugin:
		return e.AllowsPlugin(d.Ref)
	case CategoryMCPServer:
		return e.AllowsMCPServer(d.Ref)
	case CategoryBaseImage:
		return e.AllowsBaseImage(d.Ref)
	default:
		return false
	}
}
