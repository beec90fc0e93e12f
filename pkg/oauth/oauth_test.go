package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
)

type stubStore struct {
	integrations map[string]api.Integration
	updates      int
}

func (s *stubStore) GetIntegration(ctx context.Context, orgID, integrationID string) (api.Integration, error) {
	i, ok := s.integrations[integrationID]
	if !ok {
		return api.Integration{}, assert.AnError
	}
	return i, nil
}

func (s *stubStore) UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error {
	s.updates++
	s.integrations[integration.ID] = integration
	return nil
}

func TestIsTokenExpired_NoExpiresAt(t *testing.T) {
	assert.False(t, IsTokenExpired(api.Integration{Credentials: map[string]any{}}))
}

func TestIsTokenExpired_WithinGuardWindow(t *testing.T) {
	creds := map[string]any{"expires_at": time.Now().Add(1 * time.Minute).Format(time.RFC3339)}
	assert.True(t, IsTokenExpired(api.Integration{Credentials: creds}))
}

func TestIsTokenExpired_FarInFuture(t *testing.T) {
	creds := map[string]any{"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339)}
	assert.False(t, IsTokenExpired(api.Integration{Credentials: creds}))
}

func TestBuildOAuthHeaders_DefaultsToBearer(t *testing.T) {
	headers := BuildOAuthHeaders(api.Integration{Credentials: map[string]any{"access_token": "tok123"}})
	assert.Equal(t, "Bearer tok123", headers["Authorization"])
}

func TestBuildOAuthHeaders_RespectsTokenType(t *testing.T) {
	headers := BuildOAuthHeaders(api.Integration{Credentials: map[string]any{"access_token": "tok123", "token_type": "MAC"}})
	assert.Equal(t, "MAC tok123", headers["Authorization"])
}

func TestBuildOAuthHeaders_NoAccessToken(t *testing.T) {
	headers := BuildOAuthHeaders(api.Integration{Credentials: map[string]any{}})
	assert.Empty(t, headers)
}

func TestHeaders_NotExpired_NoRefresh(t *testing.T) {
	store := &stubStore{integrations: map[string]api.Integration{
		"int1": {ID: "int1", Credentials: map[string]any{"access_token": "tok123"}},
	}}
	m := New(store, nil)

	headers, err := m.Headers(context.Background(), "org1", "int1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", headers["Authorization"])
	assert.Equal(t, 0, store.updates)
}

func TestHeaders_ExpiredRefreshesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-token","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &stubStore{integrations: map[string]api.Integration{
		"int1": {
			ID:      "int1",
			URLHost: srv.URL,
			Credentials: map[string]any{
				"access_token":  "old-token",
				"refresh_token": "old-refresh",
				"expires_at":    time.Now().Add(-1 * time.Minute).Format(time.RFC3339),
				"token_url":     srv.URL + "/oauth/token",
			},
		},
	}}
	m := New(store, nil)

	headers, err := m.Headers(context.Background(), "org1", "int1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer new-token", headers["Authorization"])
	assert.Equal(t, 1, store.updates)
	assert.Equal(t, "new-refresh", store.integrations["int1"].Credentials["refresh_token"])
}

func TestRefreshOAuthToken_NonSuccessResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid_grant"))
	}))
	defer srv.Close()

	store := &stubStore{integrations: map[string]api.Integration{
		"int1": {
			ID:      "int1",
			URLHost: srv.URL,
			Credentials: map[string]any{
				"refresh_token": "old-refresh",
				"expires_at":    time.Now().Add(-1 * time.Minute).Format(time.RFC3339),
				"token_url":     srv.URL + "/oauth/token",
			},
		},
	}}
	m := New(store, nil)

	_, err := m.Headers(context.Background(), "org1", "int1")
	require.Error(t, err)
	assert.Equal(t, 0, store.updates)
}

func TestHandleCallback_ExchangesCodeAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "auth-code", r.FormValue("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","refresh_token":"ref","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &stubStore{integrations: map[string]api.Integration{
		"int1": {ID: "int1", URLHost: srv.URL, Credentials: map[string]any{}},
	}}
	m := New(store, nil)

	integration, err := m.HandleCallback(context.Background(), "org1", "int1", "auth-code", "https://gluepoint.example/callback")
	require.NoError(t, err)
	assert.Equal(t, "tok", integration.Credentials["access_token"])
	assert.Equal(t, 1, store.updates)
}

type stubCatalog struct {
	tokenURL string
}

func (s stubCatalog) TokenURLFor(urlHost string) (string, bool) {
	if s.tokenURL == "" {
		return "", false
	}
	return s.tokenURL, true
}

func TestRefresh_FallsBackToCatalogTokenURL(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &stubStore{integrations: map[string]api.Integration{
		"int1": {
			ID:      "int1",
			URLHost: "https://unused.example.com",
			Credentials: map[string]any{
				"refresh_token": "r",
				"expires_at":    time.Now().Add(-1 * time.Minute).Format(time.RFC3339),
			},
		},
	}}
	m := New(store, stubCatalog{tokenURL: srv.URL + "/token"})

	_, err := m.Headers(context.Background(), "org1", "int1")
	require.NoError(t, err)
	assert.Equal(t, "/token", gotURL)
}
