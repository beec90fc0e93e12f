package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

func init() {
	Register(Template{
		Slug:              "github",
		Name:              "GitHub",
		APIURL:            "https://api.github.com",
		HostPattern:       mustCompile(`(?i)api\.github\.com`),
		DocsURL:           "https://docs.github.com/en/rest",
		OpenAPIURL:        "https://raw.githubusercontent.com/github/rest-api-description/main/descriptions/api.github.com/api.github.com.json",
		PreferredAuthType: api.AuthOAuth2,
		OAuth: &OAuthMetadata{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
			Scopes:   []string{"repo", "read:org"},
		},
	})
}
