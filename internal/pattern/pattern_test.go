package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAtPrefix(t *testing.T) {
	ref, err := Normalize("@internal/api-tools", []string{"internal"}, false)
	require.NoError(t, err)
	assert.Equal(t, Ref{Name: "api-tools", Marketplace: "internal"}, ref)
}

func TestNormalizeTrailingAt(t *testing.T) {
	ref, err := Normalize("api-tools@internal", []string{"internal"}, false)
	require.NoError(t, err)
	assert.Equal(t, "api-tools@internal", ref.String())
}

func TestNormalizeAutoAssumeSingleMarketplace(t *testing.T) {
	ref, err := Normalize("api-tools", []string{"internal"}, false)
	require.NoError(t, err)
	assert.Equal(t, "internal", ref.Marketplace)
}

func TestNormalizeAutoAssumeImplicit(t *testing.T) {
	ref, err := Normalize("some-plugin", nil, false)
	require.NoError(t, err)
	assert.Equal(t, ImplicitOfficial, ref.Marketplace)
}

func TestNormalizeAutoAssumeImplicitBlocked(t *testing.T) {
	_, err := Normalize("some-plugin", nil, true)
	assert.Error(t, err)
}

func TestNormalizeAmbiguous(t *testing.T) {
	_, err := Normalize("api-tools", []string{"a", "b"}, false)
	assert.Error(t, err)
}

func TestNormalizeEmpty(t *testing.T) {
	_, err := Normalize("   ", nil, false)
	assert.Error(t, err)
}

func TestNormalizeUnknownMarketplace(t *testing.T) {
	_, err := Normalize("api-tools@nope", []string{"internal"}, false)
	assert.Error(t, err)
}

func TestMatchesNameOnly(t *testing.T) {
	ref := Ref{Name: "Crypto-Analyzer", Marketplace: "Internal"}
	assert.True(t, Matches(ref, "crypto-*"))
	assert.False(t, Matches(ref, "api-*"))
}

func TestMatchesFullRef(t *testing.T) {
	ref := Ref{Name: "api-tools", Marketplace: "internal"}
	assert.True(t, Matches(ref, "api-tools@internal"))
	assert.False(t, Matches(ref, "api-tools@other"))
}

func TestMatchesAnyReturnsFirst(t *testing.T) {
	ref := Ref{Name: "api-tools", Marketplace: "internal"}
	p, ok := MatchesAny(ref, []string{"nope-*", "api-*", "*"})
	assert.True(t, ok)
	assert.Equal(t, "api-*", p)
}

func TestMatchesImageUntaggedAsLatest(t *testing.T) {
	assert.True(t, MatchesImage("registry/base", "registry/base:latest"))
	assert.True(t, MatchesImage("registry/base:v1", "registry/base:v1"))
	assert.False(t, MatchesImage("registry/base:v1", "registry/base:latest"))
}
