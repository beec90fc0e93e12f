// Package oauth implements the token-expiry, refresh, and
// authorization-code exchange flow of spec.md §4.7.
//
// The token-exchange POST shape (parse 2xx response into updated
// credential fields) is adapted from the teacher's
// pkg/credentials/baserow_jwt.go Transform method, the teacher's one
// hand-rolled token-exchange credential; the request body here is
// form-encoded rather than JSON. Per-integration refresh
// serialization uses golang.org/x/time/rate (a tombee/conductor
// dependency), one limiter per (orgId, integrationId) key rather than
// conductor's per-provider usage, since refreshes race at the
// integration-credential level here.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// expiryGuardWindow is how far before the recorded expiry a token is
// treated as already expired, per spec.md §4.7.
const expiryGuardWindow = 5 * time.Minute

// IntegrationStore is the subset of the datastore the OAuth subsystem
// needs: fetching and persisting one Integration's credentials.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, orgID, integrationID string) (api.Integration, error)
	UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error
}

// CatalogLookup resolves a known integration's default OAuth token URL,
// used when an Integration's own credentials don't carry one.
type CatalogLookup interface {
	TokenURLFor(urlHost string) (string, bool)
}

// Manager implements isTokenExpired/refreshOAuthToken/buildOAuthHeaders/
// handleOAuthCallback, serializing refreshes per (orgId, integrationId).
type Manager struct {
	store   IntegrationStore
	catalog CatalogLookup
	client  *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Manager. catalog may be nil, in which case the fallback
// "{urlHost}/oauth/token" template is used whenever the credentials carry
// no token_url.
func New(store IntegrationStore, catalog CatalogLookup) *Manager {
	return &Manager{
		store:    store,
		catalog:  catalog,
		client:   &http.Client{},
		limiters: make(map[string]*rate.Limiter),
	}
}

// IsTokenExpired reports whether integration's credentials carry an
// expires_at within expiryGuardWindow of now. A missing expires_at is
// treated as not expired.
func IsTokenExpired(integration api.Integration) bool {
	creds := parseOAuthCredentials(integration.Credentials)
	if creds.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(creds.ExpiresAt) < expiryGuardWindow
}

// Headers satisfies stepexec.OAuthHeaderSource: it refreshes the
// integration's token if expired, persists the refresh, and returns the
// Authorization header to attach to the request.
func (m *Manager) Headers(ctx context.Context, orgID, integrationID string) (map[string]string, error) {
	integration, err := m.store.GetIntegration(ctx, orgID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("loading integration %s: %w", integrationID, err)
	}

	if IsTokenExpired(integration) {
		refreshed, err := m.refresh(ctx, orgID, integration)
		if err != nil {
			return nil, err
		}
		integration = refreshed
	}

	return buildOAuthHeaders(integration), nil
}

// buildOAuthHeaders returns the Authorization header for integration's
// current credentials, or {} if it holds no access token.
func buildOAuthHeaders(integration api.Integration) map[string]string {
	creds := parseOAuthCredentials(integration.Credentials)
	if creds.AccessToken == "" {
		return map[string]string{}
	}
	tokenType := creds.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return map[string]string{"Authorization": fmt.Sprintf("%s %s", tokenType, creds.AccessToken)}
}

// BuildOAuthHeaders is the exported form of buildOAuthHeaders for callers
// that already hold a fresh Integration and don't need the refresh path.
func BuildOAuthHeaders(integration api.Integration) map[string]string {
	return buildOAuthHeaders(integration)
}

// refresh performs refreshOAuthToken, serialized per (orgId,
// integrationId) so concurrent steps sharing an integration don't race
// each other's refresh, and persists the result.
func (m *Manager) refresh(ctx context.Context, orgID string, integration api.Integration) (api.Integration, error) {
	limiter := m.limiterFor(orgID, integration.ID)
	if err := limiter.Wait(ctx); err != nil {
		return integration, fmt.Errorf("waiting for refresh slot: %w", err)
	}

	// Re-fetch under the limiter in case a concurrent caller already
	// refreshed while this one was waiting.
	current, err := m.store.GetIntegration(ctx, orgID, integration.ID)
	if err != nil {
		return integration, fmt.Errorf("re-loading integration %s: %w", integration.ID, err)
	}
	if !IsTokenExpired(current) {
		return current, nil
	}

	refreshed, err := m.refreshOAuthToken(ctx, current)
	if err != nil {
		log.Printf("oauth: refresh failed for integration %s: %v", integration.ID, err)
		return integration, &tokenRefreshError{IntegrationID: integration.ID, Cause: err}
	}

	if err := m.store.UpdateIntegration(ctx, orgID, refreshed); err != nil {
		return integration, fmt.Errorf("persisting refreshed integration %s: %w", integration.ID, err)
	}
	return refreshed, nil
}

func (m *Manager) limiterFor(orgID, integrationID string) *rate.Limiter {
	key := orgID + "/" + integrationID
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Second), 1)
	m.limiters[key] = l
	return l
}

// refreshOAuthToken POSTs a refresh_token grant to the integration's token
// URL and returns the integration with updated credentials, per spec.md
// §4.7.
func (m *Manager) refreshOAuthToken(ctx context.Context, integration api.Integration) (api.Integration, error) {
	creds := parseOAuthCredentials(integration.Credentials)

	tokenURL := creds.TokenURL
	if tokenURL == "" && m.catalog != nil {
		if u, ok := m.catalog.TokenURLFor(integration.URLHost); ok {
			tokenURL = u
		}
	}
	if tokenURL == "" {
		tokenURL = strings.TrimRight(integration.URLHost, "/") + "/oauth/token"
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	if creds.ClientID != "" {
		form.Set("client_id", creds.ClientID)
	}
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return integration, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return integration, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return integration, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return integration, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return integration, fmt.Errorf("decoding refresh response: %w", err)
	}

	creds.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		creds.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.TokenType != "" {
		creds.TokenType = tokenResp.TokenType
	}
	if tokenResp.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else if exp, ok := expiryFromJWT(tokenResp.AccessToken); ok {
		creds.ExpiresAt = exp
	}

	updated := integration
	updated.Credentials = mergeOAuthCredentials(integration.Credentials, creds)
	return updated, nil
}

// HandleCallback performs the authorization-code exchange and persists the
// resulting integration, per spec.md §4.7's handleOAuthCallback.
func (m *Manager) HandleCallback(ctx context.Context, orgID, integrationID, code, redirectURI string) (api.Integration, error) {
	integration, err := m.store.GetIntegration(ctx, orgID, integrationID)
	if err != nil {
		return api.Integration{}, fmt.Errorf("loading integration %s: %w", integrationID, err)
	}
	creds := parseOAuthCredentials(integration.Credentials)

	tokenURL := creds.TokenURL
	if tokenURL == "" && m.catalog != nil {
		if u, ok := m.catalog.TokenURLFor(integration.URLHost); ok {
			tokenURL = u
		}
	}
	if tokenURL == "" {
		tokenURL = strings.TrimRight(integration.URLHost, "/") + "/oauth/token"
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if creds.ClientID != "" {
		form.Set("client_id", creds.ClientID)
	}
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return api.Integration{}, fmt.Errorf("building callback exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return api.Integration{}, fmt.Errorf("callback exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Integration{}, fmt.Errorf("reading callback exchange response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return api.Integration{}, fmt.Errorf("authorization code exchange returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return api.Integration{}, fmt.Errorf("decoding callback exchange response: %w", err)
	}

	creds.AccessToken = tokenResp.AccessToken
	creds.RefreshToken = tokenResp.RefreshToken
	if tokenResp.TokenType != "" {
		creds.TokenType = tokenResp.TokenType
	}
	if tokenResp.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else if exp, ok := expiryFromJWT(tokenResp.AccessToken); ok {
		creds.ExpiresAt = exp
	}
	creds.TokenURL = tokenURL

	integration.Credentials = mergeOAuthCredentials(integration.Credentials, creds)
	if err := m.store.UpdateIntegration(ctx, orgID, integration); err != nil {
		return api.Integration{}, fmt.Errorf("persisting integration %s: %w", integrationID, err)
	}
	return integration, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

type tokenRefreshError struct {
	IntegrationID string
	Cause         error
}

func (e *tokenRefreshError) Error() string {
	return fmt.Sprintf("oauth: refresh failed for integration %s: %v", e.IntegrationID, e.Cause)
}

func (e *tokenRefreshError) Unwrap() error { return e.Cause }

// expiryFromJWT decodes an access token's exp claim when a provider
// returns a JWT access token without an accompanying expires_in field.
// The token's signature isn't verified here: gluepoint isn't the token's
// audience-side validator, only a client reading a hint the issuer
// already vouched for over the refresh TLS connection.
func expiryFromJWT(accessToken string) (time.Time, bool) {
	if accessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	expVal, err := claims.GetExpirationTime()
	if err != nil || expVal == nil {
		return time.Time{}, false
	}
	return expVal.Time, true
}

// parseOAuthCredentials extracts the OAuth2 subset of an Integration's
// loosely-typed credential map.
func parseOAuthCredentials(creds map[string]any) api.OAuthCredentials {
	var out api.OAuthCredentials
	out.AccessToken, _ = creds["access_token"].(string)
	out.RefreshToken, _ = creds["refresh_token"].(string)
	out.TokenType, _ = creds["token_type"].(string)
	out.ClientID, _ = creds["client_id"].(string)
	out.ClientSecret, _ = creds["client_secret"].(string)
	out.TokenURL, _ = creds["token_url"].(string)

	switch v := creds["expires_at"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.ExpiresAt = t
		}
	case float64:
		out.ExpiresAt = time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			out.ExpiresAt = time.Unix(i, 0)
		} else if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			out.ExpiresAt = time.Unix(int64(f), 0)
		}
	}
	return out
}

// mergeOAuthCredentials writes creds back into base's credential map
// without discarding unrelated entries (e.g. an api_key alongside OAuth
// metadata for a hybrid integration).
func mergeOAuthCredentials(base map[string]any, creds api.OAuthCredentials) map[string]any {
	out := make(map[string]any, len(base)+6)
	for k, v := range base {
		out[k] = v
	}
	out["access_token"] = creds.AccessToken
	out["refresh_token"] = creds.RefreshToken
	out["token_type"] = creds.TokenType
	out["client_id"] = creds.ClientID
	out["client_secret"] = creds.ClientSecret
	out["token_url"] = creds.TokenURL
	if !creds.ExpiresAt.IsZero() {
		out["expires_at"] = creds.ExpiresAt.Format(time.RFC3339)
	}
	return out
}
