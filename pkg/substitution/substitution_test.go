package substitution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_AllThreeBraceStyles(t *testing.T) {
	scope := Scope{"name": "alice"}
	assert.Equal(t, "hi alice", Resolve("hi {name}", scope))
	assert.Equal(t, "hi alice", Resolve("hi {{name}}", scope))
	assert.Equal(t, "hi alice", Resolve("hi <<name>>", scope))
}

func TestResolve_DoubleBraceNotLeftWithStrayBrace(t *testing.T) {
	scope := Scope{"x": "1"}
	assert.Equal(t, "(1)", Resolve("({{x}})", scope))
}

func TestResolve_MissingVariableYieldsUndefinedLiteral(t *testing.T) {
	assert.Equal(t, "hi undefined", Resolve("hi {name}", Scope{}))
}

func TestResolve_NonStringValueIsJSONEncoded(t *testing.T) {
	scope := Scope{"n": 42, "items": []any{"a", "b"}}
	assert.Equal(t, "count: 42", Resolve("count: {n}", scope))
	assert.Equal(t, `items: ["a","b"]`, Resolve("items: {items}", scope))
}

func TestResolve_NilValueYieldsUndefinedLiteral(t *testing.T) {
	scope := Scope{"x": nil}
	assert.Equal(t, "v=undefined", Resolve("v={x}", scope))
}

func TestMerge_LaterScopesOverrideEarlier(t *testing.T) {
	merged := Merge(Scope{"a": 1, "b": 1}, Scope{"b": 2})
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
}

func TestResolveMap_AppliesToEveryValue(t *testing.T) {
	scope := Scope{"token": "abc"}
	out := ResolveMap(map[string]string{"Authorization": "Bearer {token}"}, scope)
	assert.Equal(t, "Bearer abc", out["Authorization"])
}

func TestFilterEmpty_DropsEmptyUndefinedAndNullLiterals(t *testing.T) {
	in := map[string]string{
		"keep":  "value",
		"empty": "",
		"undef": "undefined",
		"null":  "null",
	}
	out := FilterEmpty(in)
	assert.Equal(t, map[string]string{"keep": "value"}, out)
}
