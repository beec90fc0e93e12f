// Package expression evaluates the JSONata-style mapping expressions used
// for inputMapping, responseMapping, loopSelector, and finalTransform.
//
// spec.md §9 treats JSONata as an opaque embedded DSL with a
// compile-then-evaluate interface and asks only that evaluation be
// time-bounded and off the main request path. No JSONata implementation
// appears anywhere in the retrieval pack; gojq (itchyny/gojq, pulled in via
// tombee/conductor's internal/jq package) is the closest mature embedded
// JSON query/transform engine the corpus actually uses, and its
// compile/Run contract maps directly onto the one the spec asks for.
//
// A mapping expression prefixed with "js:" is instead evaluated as a
// JavaScript snippet through a sandboxed goja runtime (js_fallback.go),
// mirroring the teacher's pkg/nodes/code.JavaScriptRuntime — an escape
// hatch for the responseMapping/finalTransform authors who think in JS
// rather than jq filters.
package expression

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single expression evaluation.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxInputSize caps the JSON-encoded size of the value an
	// expression is evaluated over.
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Evaluator compiles and runs expressions with a timeout and an input-size
// guard, caching compiled programs across calls.
type Evaluator struct {
	timeout      time.Duration
	maxInputSize int64

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// New creates an Evaluator with the given timeout and input-size limit.
// Zero values fall back to the package defaults.
func New(timeout time.Duration, maxInputSize int64) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize <= 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Evaluator{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		cache:        make(map[string]*gojq.Code),
	}
}

// Evaluate runs expr against data and returns the resulting JSON value. An
// empty expression is the identity transform, matching the spec's
// "defaults to the merged scope" / "unset" language for optional mappings.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, data any) (any, error) {
	if expr == "" {
		return data, nil
	}

	if err := e.checkSize(data); err != nil {
		return nil, err
	}

	if js, ok := stripJSPrefix(expr); ok {
		return e.evaluateJS(ctx, js, data)
	}

	code, err := e.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		iter := code.Run(data)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				resultCh <- outcome{err: err}
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultCh <- outcome{val: nil}
		case 1:
			resultCh <- outcome{val: results[0]}
		default:
			resultCh <- outcome{val: results}
		}
	}()

	select {
	case out := <-resultCh:
		return out.val, out.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("expression evaluation timed out after %s", e.timeout)
	}
}

// EvaluateBool runs expr and coerces the result to a boolean, for callers
// that need a predicate rather than an arbitrary JSON value.
func (e *Evaluator) EvaluateBool(ctx context.Context, expr string, data any) (bool, error) {
	v, err := e.Evaluate(ctx, expr, data)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean, got %T", v)
	}
	return b, nil
}

// EvaluateArray runs expr and asserts the result is a JSON array, for
// loopSelector.
func (e *Evaluator) EvaluateArray(ctx context.Context, expr string, data any) ([]any, error) {
	v, err := e.Evaluate(ctx, expr, data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expression did not evaluate to an array, got %T", v)
	}
	return arr, nil
}

// Validate compiles expr without running it, for early syntax checking.
// Workflow and config upserts do not call it.
func (e *Evaluator) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	if _, ok := stripJSPrefix(expr); ok {
		return nil
	}
	_, err := e.compile(expr)
	return err
}

// stripJSPrefix reports whether expr is a JS-shaped snippet (prefixed
// with "js:") and returns the snippet body with the prefix removed.
func stripJSPrefix(expr string) (string, bool) {
	if len(expr) < len(jsPrefix) || expr[:len(jsPrefix)] != jsPrefix {
		return "", false
	}
	return expr[len(jsPrefix):], true
}

func (e *Evaluator) compile(expr string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expr]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = code
	e.mu.Unlock()
	return code, nil
}

func (e *Evaluator) checkSize(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for size check: %w", err)
	}
	if int64(len(b)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)", len(b), e.maxInputSize)
	}
	return nil
}
