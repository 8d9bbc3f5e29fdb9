package pattern

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// compiledCache memoizes compiled globs by their case-folded source, since
// the same pattern (e.g. a security.blocked_plugins entry) is matched
// against many candidate refs within one effective-config computation.
var compiledCache sync.Map // map[string]glob.Glob

func compile(foldedPattern string) (glob.Glob, error) {
	if g, ok := compiledCache.Load(foldedPattern); ok {
		return g.(glob.Glob), nil
	}
	g, err := glob.Compile(foldedPattern)
	if err != nil {
		return nil, err
	}
	compiledCache.Store(foldedPattern, g)
	return g, nil
}

func fold(s string) string {
	return foldCaser.String(s)
}

// Matches implements spec §4.1's matches(id, pattern) semantics.
//
// If pattern contains "@", the full "name@marketplace" form is compared;
// otherwise only the name part is compared. Matching is case-insensitive
// under Unicode-aware casefold (golang.org/x/text/cases). Image refs are
// matched by MatchesImage, which gives an untagged ref ":latest" first.
func Matches(id Ref, patternStr string) bool {
	var candidate, p string
	if strings.Contains(patternStr, "@") {
		candidate = id.String()
		p = patternStr
	} else {
		candidate = id.Name
		p = patternStr
	}

	g, err := compile(fold(p))
	if err != nil {
		return false
	}
	return g.Match(fold(candidate))
}

// MatchesImage applies the same glob semantics to a bare image reference
// (no marketplace component), normalizing an untagged ref to ":latest"
// before comparison, per spec §4.1's tie-break rule.
func MatchesImage(imageRef, patternStr string) bool {
	normalized := imageRef
	if !strings.Contains(lastPathSegment(imageRef), ":") {
		normalized = imageRef + ":latest"
	}

	g, err := compile(fold(patternStr))
	if err != nil {
		return false
	}
	return g.Match(fold(normalized))
}

func lastPathSegment(ref string) string {
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

// MatchesAny returns the first pattern in patterns (in input order) that
// matches id, or ("", false) if none match.
func MatchesAny(id Ref, patterns []string) (string, bool) {
	for _, p := range patterns {
		if Matches(id, p) {
			return p, true
		}
	}
	return "", false
}

// MatchesAnyImage is MatchesAny's counterpart for bare image references.
func MatchesAnyImage(imageRef string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if MatchesImage(imageRef, p) {
			return p, true
		}
	}
	return "", false
}
