package expression

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_EmptyExpressionIsIdentity(t *testing.T) {
	e := New(0, 0)
	v, err := e.Evaluate(context.Background(), "", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, v)
}

func TestEvaluate_JQFilter(t *testing.T) {
	e := New(0, 0)
	v, err := e.Evaluate(context.Background(), ".items[].name", map[string]any{
		"items": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestEvaluate_JSFallback(t *testing.T) {
	e := New(0, 0)
	v, err := e.Evaluate(context.Background(), "js: return input.count + 1;", map[string]any{"count": 41})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestEvaluate_CompileError(t *testing.T) {
	e := New(0, 0)
	_, err := e.Evaluate(context.Background(), ".[[[", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile error")
}

func TestEvaluate_Timeout(t *testing.T) {
	e := New(5*time.Millisecond, 0)
	_, err := e.Evaluate(context.Background(), "js: while(true) {}", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEvaluate_InputTooLarge(t *testing.T) {
	e := New(0, 10)
	_, err := e.Evaluate(context.Background(), ".", map[string]any{"a": strings.Repeat("x", 100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestEvaluateBool(t *testing.T) {
	e := New(0, 0)
	ok, err := e.EvaluateBool(context.Background(), ".done", map[string]any{"done": true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.EvaluateBool(context.Background(), ".done", map[string]any{"done": "yes"})
	assert.Error(t, err)
}

func TestEvaluateArray(t *testing.T) {
	e := New(0, 0)
	arr, err := e.EvaluateArray(context.Background(), ".items", map[string]any{"items": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.Len(t, arr, 3)

	_, err = e.EvaluateArray(context.Background(), ".items", map[string]any{"items": "not-an-array"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	e := New(0, 0)
	assert.NoError(t, e.Validate(""))
	assert.NoError(t, e.Validate(".a.b"))
	assert.NoError(t, e.Validate("js: return 1;"))
	assert.Error(t, e.Validate(".[[["))
}
