package stepexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/httpcaller"
	"github.com/cedricziel/gluepoint/pkg/pagination"
	"github.com/cedricziel/gluepoint/pkg/pgcaller"
	"github.com/cedricziel/gluepoint/pkg/predicate"
	"github.com/cedricziel/gluepoint/pkg/substitution"
)

func newTestExecutor(oauth OAuthHeaderSource) *Executor {
	return New(httpcaller.New(nil), pgcaller.New(pgcaller.DefaultPoolConfig()), pagination.New(0, predicate.New()), oauth)
}

func TestExecute_HTTP_ResolvesPlaceholders(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	e := newTestExecutor(nil)
	step := api.ExecutionStep{
		ApiConfig: api.ApiConfig{
			URLHost:        srv.URL,
			URLPath:        "/users/{{userId}}",
			Method:         "GET",
			Headers:        map[string]string{"Authorization": "Bearer {{token}}"},
			Authentication: api.AuthHeader,
		},
	}
	scope := substitution.Scope{"userId": "42", "token": "secret-token"}

	result, err := e.Execute(context.Background(), "org1", step, scope, api.ExecutionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/users/42", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, 200, result.StatusCode)
}

type stubOAuth struct {
	headers map[string]string
	err     error
}

func (s stubOAuth) Headers(ctx context.Context, orgID, integrationID string) (map[string]string, error) {
	return s.headers, s.err
}

func TestExecute_OAuth2_AddsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestExecutor(stubOAuth{headers: map[string]string{"Authorization": "Bearer oauth-token"}})
	step := api.ExecutionStep{
		ApiConfig: api.ApiConfig{
			URLHost:        srv.URL,
			Method:         "GET",
			Authentication: api.AuthOAuth2,
		},
		IntegrationID: "integration-1",
	}

	_, err := e.Execute(context.Background(), "org1", step, substitution.Scope{}, api.ExecutionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer oauth-token", gotAuth)
}

func TestExecute_OAuth2_NoSubsystemConfiguredFails(t *testing.T) {
	e := newTestExecutor(nil)
	step := api.ExecutionStep{
		ApiConfig: api.ApiConfig{
			URLHost:        "https://example.com",
			Method:         "GET",
			Authentication: api.AuthOAuth2,
		},
	}

	_, err := e.Execute(context.Background(), "org1", step, substitution.Scope{}, api.ExecutionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no OAuth subsystem")
}

func TestExecute_RoutesPostgresURLToPgCaller(t *testing.T) {
	e := newTestExecutor(nil)
	step := api.ExecutionStep{
		ApiConfig: api.ApiConfig{
			URLHost: "postgres://nonexistent-host-for-test/db",
			Body:    "SELECT 1",
		},
	}

	_, err := e.Execute(context.Background(), "org1", step, substitution.Scope{}, api.ExecutionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
