// Package substitution resolves {var}, {{var}}, and <<var>> placeholders
// inside strings from a flat variable scope.
//
// Substitution is intentionally a single pass: a resolved value is never
// re-scanned for further placeholders. This keeps behavior deterministic
// and avoids the classic template-injection footgun where a value pulled
// from one integration's response could be crafted to expand a second
// placeholder meant for another.
package substitution

import (
	"encoding/json"
	"regexp"
)

// placeholderPattern matches {var}, {{var}}, and <<var>> in one pass.
// Longest alternatives first so {{x}} isn't seen as {{x} (matching the
// the more permissive {var} form) leaving stray braces behind.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}|<<\s*([a-zA-Z0-9_.\[\]]+)\s*>>|\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}`)

// undefinedLiteral is returned for any placeholder whose name is not found
// in scope, per spec.md §4.1.
const undefinedLiteral = "undefined"

// Scope is a flat key -> scalar/JSON mapping assembled by callers as
// {...payload, ...credentials, ...paginationVars}. Later entries win on key
// collision when callers build a Scope with Merge.
type Scope map[string]any

// Merge layers scopes left to right; later maps override earlier ones,
// matching the payload ∪ credentials ∪ prior-step-outputs precedence order
// spec.md §2 describes.
func Merge(scopes ...Scope) Scope {
	out := Scope{}
	for _, s := range scopes {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// Resolve substitutes every placeholder in s using scope. A missing
// variable yields the literal string "undefined"; a found variable that
// isn't already a string is JSON-encoded so it can be interpolated inline.
func Resolve(s string, scope Scope) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := firstNonEmpty(sub[1], sub[2], sub[3])
		val, ok := scope[name]
		if !ok {
			return undefinedLiteral
		}
		return stringify(val)
	})
}

// ResolveMap applies Resolve to every value in m, returning a new map. Used
// for headers and query params, which callers then filter with
// FilterEmpty.
func ResolveMap(m map[string]string, scope Scope) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Resolve(v, scope)
	}
	return out
}

// FilterEmpty drops entries whose resolved value is empty, "undefined", or
// the literal string "null" — callers (the HTTP caller, in particular)
// apply this to the final header and query maps per spec.md §4.1.
func FilterEmpty(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == "" || v == undefinedLiteral || v == "null" {
			continue
		}
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return undefinedLiteral
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return undefinedLiteral
		}
		return string(b)
	}
}
