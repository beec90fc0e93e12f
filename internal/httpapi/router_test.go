package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
)

type stubStore struct {
	workflows map[string]*api.Workflow
	runs      []api.RunResult
	listErr   error
}

func (s *stubStore) GetWorkflow(ctx context.Context, orgID, id string) (*api.Workflow, error) {
	return s.workflows[id], nil
}

func (s *stubStore) GetIntegration(ctx context.Context, orgID, id string) (api.Integration, error) {
	return api.Integration{}, nil
}

func (s *stubStore) ListRuns(ctx context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.runs, nil
}

func (s *stubStore) RecordRun(ctx context.Context, orgID string, run api.RunResult) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *stubStore) Close() error { return nil }

type stubRunner struct {
	result *api.WorkflowResult
	err    error
}

func (r *stubRunner) Execute(ctx context.Context, orgID string, wf api.Workflow, payload any, credentials map[string]any, opts api.ExecutionOptions) (*api.WorkflowResult, error) {
	return r.result, r.err
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHandleHealth_AlwaysOK(t *testing.T) {
	rt := New(&stubStore{}, &stubRunner{}, stubPinger{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHandleReady_HealthyPinger(t *testing.T) {
	rt := New(&stubStore{}, &stubRunner{}, stubPinger{}, "")
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReady_UnhealthyPingerReturns503(t *testing.T) {
	rt := New(&stubStore{}, &stubRunner{}, stubPinger{err: errors.New("db down")}, "")
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestRequireAuth_RejectsMissingToken(t *testing.T) {
	rt := New(&stubStore{}, &stubRunner{}, stubPinger{}, "secret-token")
	req := httptest.NewRequest(http.MethodGet, "/orgs/org1/runs", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_AcceptsCorrectToken(t *testing.T) {
	rt := New(&stubStore{}, &stubRunner{}, stubPinger{}, "secret-token")
	req := httptest.NewRequest(http.MethodGet, "/orgs/org1/runs", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleWebhook_TriggersWorkflowAndRecordsRun(t *testing.T) {
	store := &stubStore{workflows: map[string]*api.Workflow{"wf1": {ID: "wf1"}}}
	runner := &stubRunner{result: &api.WorkflowResult{Success: true, Data: "done"}}
	rt := New(store, runner, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/org1/wf1", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.runs, 1)
	assert.True(t, store.runs[0].Success)
}

func TestHandleWebhook_UnknownWorkflowReturns404(t *testing.T) {
	store := &stubStore{workflows: map[string]*api.Workflow{}}
	rt := New(store, &stubRunner{}, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/org1/missing", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWebhook_InvalidJSONBodyReturns400(t *testing.T) {
	store := &stubStore{workflows: map[string]*api.Workflow{"wf1": {ID: "wf1"}}}
	rt := New(store, &stubRunner{}, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/org1/wf1", strings.NewReader(`not json`))
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_ExecutionFailureRecordsAndReturns500(t *testing.T) {
	store := &stubStore{workflows: map[string]*api.Workflow{"wf1": {ID: "wf1"}}}
	runner := &stubRunner{err: errors.New("boom")}
	rt := New(store, runner, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/org1/wf1", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, store.runs, 1)
	assert.False(t, store.runs[0].Success)
}

func TestHandleListRuns_ReturnsStoredRuns(t *testing.T) {
	store := &stubStore{runs: []api.RunResult{{ID: "run1"}}}
	rt := New(store, &stubRunner{}, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodGet, "/orgs/org1/runs?limit=10&offset=0", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run1")
}

func TestHandleListRuns_StoreErrorReturns500(t *testing.T) {
	store := &stubStore{listErr: errors.New("query failed")}
	rt := New(store, &stubRunner{}, stubPinger{}, "")

	req := httptest.NewRequest(http.MethodGet, "/orgs/org1/runs", nil)
	w := httptest.NewRecorder()

	rt.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
