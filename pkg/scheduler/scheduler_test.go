package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
)

type stubSource struct {
	mu        sync.Mutex
	orgIDs    []string
	workflows map[string][]api.Workflow
}

func (s *stubSource) ListOrgIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.orgIDs...), nil
}

func (s *stubSource) ListWorkflows(ctx context.Context, orgID string) ([]api.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Workflow{}, s.workflows[orgID]...), nil
}

func (s *stubSource) setWorkflows(orgID string, wfs []api.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[orgID] = wfs
}

type stubRunner struct {
	mu      sync.Mutex
	calls   int
	result  *api.WorkflowResult
	err     error
}

func (r *stubRunner) Execute(ctx context.Context, orgID string, wf api.Workflow, payload any, credentials map[string]any, opts api.ExecutionOptions) (*api.WorkflowResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubRecorder struct {
	mu   sync.Mutex
	runs []api.RunResult
}

func (r *stubRecorder) RecordRun(ctx context.Context, orgID string, run api.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *stubRecorder) recordedRuns() []api.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.RunResult{}, r.runs...)
}

func TestSync_AddsJobForCronScheduledWorkflow(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "@every 1h"}},
	}}
	s := New(source, &stubRunner{}, &stubRecorder{})

	s.sync(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 1)
}

func TestSync_IgnoresWorkflowsWithoutCronSchedule(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1"}},
	}}
	s := New(source, &stubRunner{}, &stubRecorder{})

	s.sync(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 0)
}

func TestSync_RemovesJobForDeletedWorkflow(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "@every 1h"}},
	}}
	s := New(source, &stubRunner{}, &stubRecorder{})
	s.sync(context.Background())
	require.Len(t, s.jobs, 1)

	source.setWorkflows("org1", nil)
	s.sync(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 0)
}

func TestSync_InvalidCronScheduleIsSkipped(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "not-a-valid-cron"}},
	}}
	s := New(source, &stubRunner{}, &stubRecorder{})

	s.sync(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 0)
}

func TestFire_ExecutesAndRecordsSuccess(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "@every 1h"}},
	}}
	runner := &stubRunner{result: &api.WorkflowResult{Success: true, Data: "ok"}}
	recorder := &stubRecorder{}
	s := New(source, runner, recorder)

	s.fire(job{orgID: "org1", workflowID: "wf1"})

	assert.Equal(t, 1, runner.callCount())
	runs := recorder.recordedRuns()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, "wf1", runs[0].Config.ID)
}

func TestFire_RecordsFailureWhenExecuteErrors(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "@every 1h"}},
	}}
	runner := &stubRunner{err: assert.AnError}
	recorder := &stubRecorder{}
	s := New(source, runner, recorder)

	s.fire(job{orgID: "org1", workflowID: "wf1"})

	runs := recorder.recordedRuns()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.NotEmpty(t, runs[0].Error)
}

func TestFire_WorkflowNoLongerExistsSkipsRun(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{"org1": {}}}
	runner := &stubRunner{}
	recorder := &stubRecorder{}
	s := New(source, runner, recorder)

	s.fire(job{orgID: "org1", workflowID: "missing"})

	assert.Equal(t, 0, runner.callCount())
	assert.Empty(t, recorder.recordedRuns())
}

func TestStartStop_SyncsAndShutsDownCleanly(t *testing.T) {
	source := &stubSource{orgIDs: []string{"org1"}, workflows: map[string][]api.Workflow{
		"org1": {{ID: "wf1", CronSchedule: "@every 1h"}},
	}}
	s := New(source, &stubRunner{}, &stubRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	assert.Len(t, s.jobs, 1)
	s.mu.Unlock()

	cancel()
	s.Stop()
}
