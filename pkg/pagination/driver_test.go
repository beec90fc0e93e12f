package pagination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/httpcaller"
)

func TestRun_Disabled(t *testing.T) {
	d := New(0, nil)
	called := 0
	result, err := d.Run(context.Background(), api.Pagination{Type: api.PaginationDisabled}, "", func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		called++
		return &httpcaller.Response{Status: 200, Data: map[string]any{"items": []any{1, 2}}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Equal(t, map[string]any{"items": []any{1, 2}}, result.Data)
}

func TestRun_OffsetBased_StopsOnShortPage(t *testing.T) {
	d := New(0, nil)
	pages := [][]any{
		{1, 2, 3},
		{4, 5},
	}
	call := 0
	result, err := d.Run(context.Background(), api.Pagination{Type: api.PaginationOffsetBased, PageSize: "3"}, "", func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		page := pages[call]
		call++
		return &httpcaller.Response{Status: 200, Data: page}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, call)
	assert.Equal(t, []any{1, 2, 3, 4, 5}, result.Data)
}

func TestRun_CursorBased_StopsOnNilCursor(t *testing.T) {
	d := New(0, nil)
	responses := []map[string]any{
		{"items": []any{"a"}, "next": "cursor-2"},
		{"items": []any{"b"}, "next": nil},
	}
	call := 0
	result, err := d.Run(context.Background(), api.Pagination{Type: api.PaginationCursorBased, CursorPath: "next"}, "items", func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		resp := responses[call]
		call++
		return &httpcaller.Response{Status: 200, Data: resp}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, call)
	shaped := result.Data.(map[string]any)
	assert.Equal(t, []any{"a", "b"}, shaped["results"])
	assert.Nil(t, shaped["next_cursor"])
}

func TestRun_StopCondition_IdenticalFirstTwoPagesErrors(t *testing.T) {
	d := New(0, nil)
	_, err := d.Run(context.Background(), api.Pagination{Type: api.PaginationPageBased, StopCondition: "pageInfo.page > 10"}, "", func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		return &httpcaller.Response{Status: 200, Data: []any{1, 2}}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identical non-empty data")
}

func TestRun_StopCondition_Fires(t *testing.T) {
	d := New(0, nil)
	call := 0
	result, err := d.Run(context.Background(), api.Pagination{Type: api.PaginationPageBased, StopCondition: "pageInfo.totalFetched >= 3"}, "", func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		call++
		return &httpcaller.Response{Status: 200, Data: []any{call}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, call)
	assert.Equal(t, []any{1, 2, 3}, result.Data)
}

func TestValidateAndParse_HTMLError(t *testing.T) {
	_, err := validateAndParse(&httpcaller.Response{Status: 200, Data: "<html><body>oops</body></html>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func TestAutoParse_JSONAndCSV(t *testing.T) {
	v := autoParse(`{"a":1}`)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	rows := autoParse("name,age\nbob,5\n")
	arr, ok := rows.([]any)
	require.True(t, ok)
	require.Len(t, arr, 1)
	assert.Equal(t, "bob", arr[0].(map[string]any)["name"])
}

func TestApplyDataPath(t *testing.T) {
	v := applyDataPath(map[string]any{"data": map[string]any{"items": []any{1, 2}}}, "data.items")
	assert.Equal(t, []any{1, 2}, v)

	// missing segment leaves the original value unchanged
	original := map[string]any{"data": 1}
	assert.Equal(t, original, applyDataPath(original, "missing.path"))
}
