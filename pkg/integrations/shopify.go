package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

func init() {
	Register(Template{
		Slug:              "shopify",
		Name:              "Shopify",
		APIURL:            "https://{shop}.myshopify.com",
		HostPattern:       mustCompile(`(?i)[\w-]+\.myshopify\.com`),
		DocsURL:           "https://shopify.dev/docs/api/admin-rest",
		PreferredAuthType: api.AuthOAuth2,
		OAuth: &OAuthMetadata{
			AuthURL:  "https://{shop}.myshopify.com/admin/oauth/authorize",
			TokenURL: "https://{shop}.myshopify.com/admin/oauth/access_token",
			Scopes:   []string{"read_orders", "read_products"},
		},
	})
}
