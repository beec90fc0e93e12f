// Package workflow sequences a Workflow's steps, threading mapped
// inputs/outputs between them and fanning LOOP-mode steps out with bounded
// concurrency, per spec.md §4.6.
//
// Generalized from the teacher's pkg/execution/engine.go step lifecycle
// (find-context → execute → record) away from its durable cross-process
// queue model to single-process linear sequencing, since spec.md's
// Non-goals exclude a distributed scheduler; the bounded concurrent
// fan-out for LOOP mode is modeled on tombee/conductor's
// pkg/workflow/loop.go semaphore-over-goroutines approach.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/expression"
	"github.com/cedricziel/gluepoint/pkg/stepexec"
	"github.com/cedricziel/gluepoint/pkg/substitution"
)

// StepRunner executes one step's (possibly self-healed) ApiConfig. The
// self-healing coordinator satisfies this directly; a plain stepexec
// wrapper can be used when healing is always disabled.
type StepRunner interface {
	Run(ctx context.Context, orgID string, step api.ExecutionStep, integration api.Integration, scope substitution.Scope, opts api.ExecutionOptions) (*stepexec.Result, api.ApiConfig, error)
}

// IntegrationLookup resolves a step's integrationId to its Integration
// record (credentials, documentation, specific instructions).
type IntegrationLookup interface {
	Get(ctx context.Context, orgID, integrationID string) (api.Integration, error)
}

// Engine runs Workflows against a StepRunner.
type Engine struct {
	exprs        *expression.Evaluator
	runner       StepRunner
	integrations IntegrationLookup
}

// New creates an Engine.
func New(exprs *expression.Evaluator, runner StepRunner, integrations IntegrationLookup) *Engine {
	return &Engine{exprs: exprs, runner: runner, integrations: integrations}
}

// Execute runs wf's steps in order against payload/credentials, returning a
// WorkflowResult that is always populated — failures are reported in the
// result, not as a returned error, per spec.md §4.6/§7.
func (e *Engine) Execute(ctx context.Context, orgID string, wf api.Workflow, payload any, credentials map[string]any, opts api.ExecutionOptions) (*api.WorkflowResult, error) {
	startedAt := time.Now()

	timeout := opts.WorkflowTimeout
	if timeout <= 0 {
		timeout = api.Defaults.WorkflowTimeout
	}
	wfCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepOutputs := map[string]any{}
	stepResults := make([]api.StepResult, 0, len(wf.Steps))
	var failureError string

	for _, step := range wf.Steps {
		if failureError != "" {
			break
		}

		baseScope := substitution.Scope{"payload": payload, "credentials": credentials, "steps": stepOutputs}

		inputScope, err := e.resolveInputScope(wfCtx, step, baseScope)
		if err != nil {
			stepResults = append(stepResults, api.StepResult{StepID: step.ID, Success: false, Error: err.Error()})
			failureError = err.Error()
			continue
		}

		integration, err := e.lookupIntegration(wfCtx, orgID, step.IntegrationID)
		if err != nil {
			stepResults = append(stepResults, api.StepResult{StepID: step.ID, Success: false, Error: err.Error()})
			failureError = err.Error()
			continue
		}

		var rawData any
		if step.ExecutionMode == api.ExecutionLoop {
			rawData, err = e.runLoop(wfCtx, orgID, step, integration, inputScope, opts)
		} else {
			var res *stepexec.Result
			res, _, err = e.runner.Run(wfCtx, orgID, step, integration, inputScope, opts)
			if err == nil {
				rawData = res.Data
			}
		}
		if err != nil {
			stepResults = append(stepResults, api.StepResult{StepID: step.ID, Success: false, Error: err.Error()})
			failureError = err.Error()
			continue
		}

		transformed := rawData
		if step.ResponseMapping != "" {
			mapped, err := e.exprs.Evaluate(wfCtx, step.ResponseMapping, map[string]any{
				"data": rawData, "payload": payload, "credentials": credentials,
			})
			if err != nil {
				stepResults = append(stepResults, api.StepResult{StepID: step.ID, Success: false, RawData: rawData, Error: err.Error()})
				failureError = err.Error()
				continue
			}
			transformed = mapped
		}

		stepOutputs[step.ID] = transformed
		stepResults = append(stepResults, api.StepResult{
			StepID: step.ID, Success: true, RawData: rawData, TransformedData: transformed,
		})
	}

	result := &api.WorkflowResult{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		StepResults: stepResults,
	}

	if failureError != "" {
		result.Success = false
		result.Error = failureError
		return result, nil
	}

	data := any(stepOutputs)
	if wf.FinalTransform != "" {
		finalScope := map[string]any{"steps": stepOutputs, "payload": payload, "credentials": credentials}
		transformed, err := e.exprs.Evaluate(wfCtx, wf.FinalTransform, finalScope)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			return result, nil
		}
		data = transformed
	}

	result.Success = true
	result.Data = data
	return result, nil
}

func (e *Engine) resolveInputScope(ctx context.Context, step api.ExecutionStep, baseScope substitution.Scope) (substitution.Scope, error) {
	if step.InputMapping == "" {
		return baseScope, nil
	}
	evaluated, err := e.exprs.Evaluate(ctx, step.InputMapping, map[string]any(baseScope))
	if err != nil {
		return nil, fmt.Errorf("inputMapping: %w", err)
	}
	if m, ok := evaluated.(map[string]any); ok {
		return substitution.Scope(m), nil
	}
	return substitution.Scope{"value": evaluated}, nil
}

func (e *Engine) lookupIntegration(ctx context.Context, orgID, integrationID string) (api.Integration, error) {
	if integrationID == "" || e.integrations == nil {
		return api.Integration{}, nil
	}
	return e.integrations.Get(ctx, orgID, integrationID)
}

// runLoop implements spec.md §4.6 step 2/LOOP mode: evaluate loopSelector,
// cap iterations, run bounded concurrently binding each element under
// "item"/"index" in the iteration scope, preserving output order.
func (e *Engine) runLoop(ctx context.Context, orgID string, step api.ExecutionStep, integration api.Integration, scope substitution.Scope, opts api.ExecutionOptions) (any, error) {
	items, err := e.exprs.EvaluateArray(ctx, step.LoopSelector, map[string]any(scope))
	if err != nil {
		return nil, fmt.Errorf("loopSelector: %w", err)
	}

	maxIters := step.LoopMaxIters
	if maxIters <= 0 {
		maxIters = api.Defaults.MaxLoopIterations
	}
	if len(items) > maxIters {
		items = items[:maxIters]
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, api.Defaults.MaxLoopConcurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()

			iterScope := substitution.Merge(scope, substitution.Scope{"item": item, "index": i})
			res, _, err := e.runner.Run(ctx, orgID, step, integration, iterScope, opts)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res.Data
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
