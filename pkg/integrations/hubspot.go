package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

func init() {
	Register(Template{
		Slug:              "hubspot",
		Name:              "HubSpot",
		APIURL:            "https://api.hubapi.com",
		HostPattern:       mustCompile(`(?i)api\.hubapi\.com`),
		DocsURL:           "https://developers.hubspot.com/docs/api/overview",
		PreferredAuthType: api.AuthOAuth2,
		OAuth: &OAuthMetadata{
			AuthURL:  "https://app.hubspot.com/oauth/authorize",
			TokenURL: "https://api.hubapi.com/oauth/v1/token",
			Scopes:   []string{"crm.objects.contacts.read"},
		},
	})
}
