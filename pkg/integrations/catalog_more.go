package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

// A handful of smaller catalog entries that don't warrant their own file.
func init() {
	Register(Template{
		Slug:              "airtable",
		Name:              "Airtable",
		APIURL:            "https://api.airtable.com",
		HostPattern:       mustCompile(`(?i)api\.airtable\.com`),
		DocsURL:           "https://airtable.com/developers/web/api/introduction",
		PreferredAuthType: api.AuthHeader,
	})

	Register(Template{
		Slug:              "notion",
		Name:              "Notion",
		APIURL:            "https://api.notion.com",
		HostPattern:       mustCompile(`(?i)api\.notion\.com`),
		DocsURL:           "https://developers.notion.com/reference/intro",
		PreferredAuthType: api.AuthOAuth2,
		OAuth: &OAuthMetadata{
			AuthURL:  "https://api.notion.com/v1/oauth/authorize",
			TokenURL: "https://api.notion.com/v1/oauth/token",
		},
	})

	Register(Template{
		Slug:              "zendesk",
		Name:              "Zendesk",
		APIURL:            "https://{subdomain}.zendesk.com/api/v2",
		HostPattern:       mustCompile(`(?i)[\w-]+\.zendesk\.com`),
		DocsURL:           "https://developer.zendesk.com/api-reference",
		PreferredAuthType: api.AuthHeader,
	})
}
