package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

func init() {
	Register(Template{
		Slug:              "slack",
		Name:              "Slack",
		APIURL:            "https://slack.com/api",
		HostPattern:       mustCompile(`(?i)slack\.com`),
		DocsURL:           "https://api.slack.com/web",
		PreferredAuthType: api.AuthOAuth2,
		OAuth: &OAuthMetadata{
			AuthURL:  "https://slack.com/oauth/v2/authorize",
			TokenURL: "https://slack.com/api/oauth.v2.access",
			Scopes:   []string{"channels:read", "chat:write"},
		},
	})
}
