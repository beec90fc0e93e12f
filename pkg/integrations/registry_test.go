package integrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_KnownSlug(t *testing.T) {
	tmpl, ok := Lookup("github")
	require.True(t, ok)
	assert.Equal(t, "GitHub", tmpl.Name)
}

func TestLookup_UnknownSlug(t *testing.T) {
	_, ok := Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestMatchHost_MatchesRegisteredPattern(t *testing.T) {
	tmpl, ok := MatchHost("https://api.github.com")
	require.True(t, ok)
	assert.Equal(t, "github", tmpl.Slug)
}

func TestMatchHost_NoMatch(t *testing.T) {
	_, ok := MatchHost("https://unrelated.example.com")
	assert.False(t, ok)
}

func TestTokenURLFor_ResolvesOAuthProvider(t *testing.T) {
	url, ok := TokenURLFor("https://api.github.com")
	require.True(t, ok)
	assert.Equal(t, "https://github.com/login/oauth/access_token", url)
}

func TestTokenURLFor_NoMatchReturnsFalse(t *testing.T) {
	_, ok := TokenURLFor("https://unrelated.example.com")
	assert.False(t, ok)
}

func TestCatalog_SatisfiesCatalogLookup(t *testing.T) {
	var c Catalog
	url, ok := c.TokenURLFor("https://api.github.com")
	require.True(t, ok)
	assert.NotEmpty(t, url)
}

func TestAll_SortedBySlug(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Slug, all[i].Slug)
	}
}

func TestRegister_OverwritesExistingSlug(t *testing.T) {
	original, ok := Lookup("github")
	require.True(t, ok)
	defer Register(original)

	Register(Template{Slug: "github", Name: "Replaced"})
	tmpl, ok := Lookup("github")
	require.True(t, ok)
	assert.Equal(t, "Replaced", tmpl.Name)
}
