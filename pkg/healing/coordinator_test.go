package healing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/stepexec"
	"github.com/cedricziel/gluepoint/pkg/substitution"
)

type stubExecutor struct {
	result *stepexec.Result
	err    error
	calls  int
}

func (s *stubExecutor) Execute(ctx context.Context, orgID string, step api.ExecutionStep, scope substitution.Scope, opts api.ExecutionOptions) (*stepexec.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubEvaluator struct {
	verdict EvaluationVerdict
	err     error
}

func (s stubEvaluator) Evaluate(ctx context.Context, data any, instruction, documentation string) (EvaluationVerdict, error) {
	return s.verdict, s.err
}

func TestRun_SelfHealingDisabled_PassesThrough(t *testing.T) {
	exec := &stubExecutor{result: &stepexec.Result{StatusCode: 200}}
	c := New(nil, "", nil, exec, nil, nil)

	step := api.ExecutionStep{ApiConfig: api.ApiConfig{ID: "cfg1"}}
	res, cfg, err := c.Run(context.Background(), "org1", step, api.Integration{}, substitution.Scope{}, api.ExecutionOptions{SelfHealing: api.SelfHealingDisabled})

	require.NoError(t, err)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "cfg1", cfg.ID)
}

func TestRun_SuccessWithoutEvaluator_NoHealingNeeded(t *testing.T) {
	exec := &stubExecutor{result: &stepexec.Result{StatusCode: 200}}
	c := New(nil, "", nil, exec, nil, nil)

	step := api.ExecutionStep{ApiConfig: api.ApiConfig{ID: "cfg1"}}
	res, _, err := c.Run(context.Background(), "org1", step, api.Integration{}, substitution.Scope{}, api.ExecutionOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 200, res.StatusCode)
}

func TestRun_SuccessWithEvaluatorApproval(t *testing.T) {
	exec := &stubExecutor{result: &stepexec.Result{StatusCode: 200}}
	eval := stubEvaluator{verdict: EvaluationVerdict{Success: true}}
	c := New(nil, "", nil, exec, nil, eval)

	step := api.ExecutionStep{ApiConfig: api.ApiConfig{ID: "cfg1"}}
	res, _, err := c.Run(context.Background(), "org1", step, api.Integration{}, substitution.Scope{}, api.ExecutionOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 200, res.StatusCode)
}

func TestRunSubmit_ParsesConfig(t *testing.T) {
	c := &Coordinator{}
	cfg, err := c.runSubmit(`{"config":{"id":"repaired","urlHost":"https://api.example.com"}}`)
	require.NoError(t, err)
	assert.Equal(t, "repaired", cfg.ID)
}

func TestRunSubmit_ErrorString(t *testing.T) {
	c := &Coordinator{}
	_, err := c.runSubmit(`{"error":"cannot be repaired"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be repaired")
}

func TestRunSubmit_NeitherConfigNorError(t *testing.T) {
	c := &Coordinator{}
	_, err := c.runSubmit(`{}`)
	require.Error(t, err)
}

func TestRunSearch_NoDocSearcherConfigured(t *testing.T) {
	c := &Coordinator{}
	out := c.runSearch(context.Background(), api.Integration{}, `{"query":"auth"}`)
	assert.Equal(t, "no documentation source configured", out)
}

type stubDocSearcher struct {
	result string
	err    error
}

func (s stubDocSearcher) Search(ctx context.Context, integration api.Integration, query string) (string, error) {
	return s.result, s.err
}

func TestRunSearch_ReturnsDocsResult(t *testing.T) {
	c := &Coordinator{docs: stubDocSearcher{result: "use bearer tokens"}}
	out := c.runSearch(context.Background(), api.Integration{}, `{"query":"auth"}`)
	assert.Equal(t, "use bearer tokens", out)
}

func TestRunSearch_DocSearcherError(t *testing.T) {
	c := &Coordinator{docs: stubDocSearcher{err: errors.New("boom")}}
	out := c.runSearch(context.Background(), api.Integration{}, `{"query":"auth"}`)
	assert.Contains(t, out, "boom")
}

func TestCredentialNames_Sorted(t *testing.T) {
	names := credentialNames(map[string]any{"zToken": "x", "aKey": "y"})
	assert.Equal(t, []string{"aKey", "zToken"}, names)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
