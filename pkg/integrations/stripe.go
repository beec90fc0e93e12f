package integrations

import "github.com/cedricziel/gluepoint/pkg/api"

func init() {
	Register(Template{
		Slug:              "stripe",
		Name:              "Stripe",
		APIURL:            "https://api.stripe.com",
		HostPattern:       mustCompile(`(?i)api\.stripe\.com`),
		DocsURL:           "https://stripe.com/docs/api",
		OpenAPIURL:        "https://raw.githubusercontent.com/stripe/openapi/master/openapi/spec3.json",
		PreferredAuthType: api.AuthHeader,
	})
}
