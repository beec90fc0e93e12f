package expression

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// jsPrefix marks a mapping expression as a JavaScript snippet rather than
// a gojq query, evaluated as a fallback through the sandboxed runtime
// below, per SPEC_FULL.md's goja-fallback wiring.
const jsPrefix = "js:"

// evaluateJS runs a JS-shaped responseMapping/finalTransform snippet in a
// fresh, sandboxed goja runtime, mirroring the teacher's
// JavaScriptRuntime.Execute: dangerous globals are disabled, the snippet
// is wrapped in an IIFE so a bare `return` works, and evaluation is
// cancelled via ctx rather than relying on goja's own interrupt timer.
func (e *Evaluator) evaluateJS(ctx context.Context, code string, data any) (any, error) {
	vm := goja.New()
	vm.Set("require", goja.Undefined())
	vm.Set("import", goja.Undefined())
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
	vm.Set("input", data)

	wrapped := fmt.Sprintf("(function() {\n%s\n})()", code)

	type outcome struct {
		val goja.Value
		err error
	}
	resultCh := make(chan outcome, 1)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("panic during javascript evaluation: %v", r)}
			}
		}()
		result, err := vm.RunString(wrapped)
		resultCh <- outcome{val: result, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			return nil, fmt.Errorf("javascript evaluation error: %w", out.err)
		}
		if out.val == nil || goja.IsUndefined(out.val) {
			return nil, nil
		}
		return out.val.Export(), nil
	case <-runCtx.Done():
		vm.Interrupt("evaluation timed out")
		return nil, fmt.Errorf("javascript evaluation timed out after %s", e.timeout)
	}
}
