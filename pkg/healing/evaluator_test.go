package healing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubOpenAIServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL
	return openai.NewClientWithConfig(cfg)
}

func TestLLMEvaluator_ParsesVerdict(t *testing.T) {
	srv := stubOpenAIServer(t, `{"success":true,"refactorNeeded":false,"shortReason":"looks good"}`)
	defer srv.Close()

	e := NewLLMEvaluator(newTestClient(srv.URL), "gpt-4o")
	verdict, err := e.Evaluate(context.Background(), map[string]any{"a": 1}, "fetch the user", "docs")
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, "looks good", verdict.ShortReason)
}

func TestLLMEvaluator_InvalidJSONFromModel(t *testing.T) {
	srv := stubOpenAIServer(t, `not json`)
	defer srv.Close()

	e := NewLLMEvaluator(newTestClient(srv.URL), "gpt-4o")
	_, err := e.Evaluate(context.Background(), map[string]any{}, "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid json")
}
