// Package integrations is a static, slug-keyed catalog of known third
// party APIs, used to pre-fill Integration metadata (host, docs, auth
// shape) and to resolve OAuth endpoints oauth.Manager needs but an
// Integration's own credentials may omit.
//
// The registration style — one file per provider, each with an init()
// that registers its definition into a package-level registry protected
// by a mutex — is the teacher's pkg/credentials pattern
// (api_key.go/baserow_token.go/baserow_jwt.go + credentials.go),
// generalized here from credential-type definitions to integration
// templates.
package integrations

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// OAuthMetadata describes a provider's OAuth2 endpoints and default
// scope set.
type OAuthMetadata struct {
	AuthURL string
	TokenURL string
	Scopes   []string
}

// Template is one catalog entry: everything gluepoint can infer about an
// integration purely from the slug a user picks, before any credentials
// exist.
type Template struct {
	Slug              string
	Name              string
	APIURL            string
	HostPattern       *regexp.Regexp
	DocsURL           string
	OpenAPIURL        string
	PreferredAuthType api.AuthType
	OAuth             *OAuthMetadata
}

var registry = struct {
	mu        sync.RWMutex
	templates map[string]Template
}{templates: make(map[string]Template)}

// Register adds t to the catalog. Called from each provider file's
// init().
func Register(t Template) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.templates[t.Slug] = t
}

// Lookup returns the template registered under slug.
func Lookup(slug string) (Template, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	t, ok := registry.templates[slug]
	return t, ok
}

// MatchHost returns a template whose HostPattern matches urlHost, used to
// identify which provider an ApiConfig/Integration targets when the caller
// only has a host string, not a slug. When several patterns match, which
// of them is returned is not defined.
func MatchHost(urlHost string) (Template, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, t := range registry.templates {
		if t.HostPattern != nil && t.HostPattern.MatchString(urlHost) {
			return t, true
		}
	}
	return Template{}, false
}

// TokenURLFor satisfies pkg/oauth.CatalogLookup: it resolves urlHost to a
// registered provider's OAuth token endpoint, when one exists.
func TokenURLFor(urlHost string) (string, bool) {
	t, ok := MatchHost(urlHost)
	if !ok || t.OAuth == nil || t.OAuth.TokenURL == "" {
		return "", false
	}
	return t.OAuth.TokenURL, true
}

// Catalog is a zero-value adapter satisfying pkg/oauth.CatalogLookup by
// delegating to the package-level registry functions above.
type Catalog struct{}

func (Catalog) TokenURLFor(urlHost string) (string, bool) {
	return TokenURLFor(urlHost)
}

// All returns every registered template, sorted by slug.
func All() []Template {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]Template, 0, len(registry.templates))
	for _, t := range registry.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func mustCompile(pattern string) *regexp.Regexp {
	re, err := regexp.Compile(pattern)
	if err != nil {
		panic(fmt.Sprintf("integrations: invalid host pattern %q: %v", pattern, err))
	}
	return re
}
