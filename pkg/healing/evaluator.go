package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// LLMEvaluator is the default Evaluator: a single completion call asked to
// return strict JSON matching EvaluationVerdict.
type LLMEvaluator struct {
	client *openai.Client
	model  string
}

// NewLLMEvaluator creates an LLMEvaluator using client/model for the
// judgement call described in spec.md §4.5 step 1.
func NewLLMEvaluator(client *openai.Client, model string) *LLMEvaluator {
	return &LLMEvaluator{client: client, model: model}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, data any, instruction, documentation string) (EvaluationVerdict, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return EvaluationVerdict{}, fmt.Errorf("marshaling response data: %w", err)
	}

	prompt := fmt.Sprintf(
		"Instruction: %s\n\nDocumentation:\n%s\n\nResponse data:\n%s\n\n"+
			"Does this response satisfy the instruction? Reply with strict JSON only: "+
			`{"success": bool, "refactorNeeded": bool, "shortReason": string}.`,
		instruction, documentation, truncate(string(dataJSON), maxPayloadSampleChars),
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          e.model,
		Messages:       []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return EvaluationVerdict{}, fmt.Errorf("evaluator completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return EvaluationVerdict{}, errors.New("evaluator returned no choices")
	}

	var verdict EvaluationVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		return EvaluationVerdict{}, fmt.Errorf("evaluator returned invalid json: %w", err)
	}
	return verdict, nil
}
