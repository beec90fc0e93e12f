package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_True(t *testing.T) {
	e := New()
	ok, err := e.Evaluate("response.hasMore == false", map[string]any{
		"response": map[string]any{"hasMore": false},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_CachesCompiledProgram(t *testing.T) {
	e := New()
	expr := "pageInfo.page >= 3"

	for page := 1; page <= 4; page++ {
		ok, err := e.Evaluate(expr, map[string]any{"pageInfo": map[string]any{"page": page}})
		require.NoError(t, err)
		assert.Equal(t, page >= 3, ok)
	}
	assert.Len(t, e.cache, 1, "repeated expressions should reuse the compiled program")
}

func TestEvaluate_NonBooleanResult(t *testing.T) {
	e := New()
	_, err := e.Evaluate("1 + 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to a boolean")
}

func TestEvaluate_CompileError(t *testing.T) {
	e := New()
	_, err := e.Evaluate("this is not valid (((", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile error")
}
