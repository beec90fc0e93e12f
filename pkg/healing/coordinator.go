// Package healing repairs a failing ApiConfig by looping an LLM through a
// searchDocumentation/submit tool protocol, per spec.md §4.5.
//
// The OpenAI wiring (client construction, ChatCompletionMessage
// assembly) follows the teacher's pkg/nodes/llm/llm.go; the
// provider-agnostic tool-call loop and retry/temperature-ramp shape is
// adapted from tombee/conductor's pkg/llm package, which models a
// CompletionRequest/Response contract gluepoint narrows to go-openai
// directly, matching the teacher's preference for calling the SDK inline
// rather than through an abstraction layer.
package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/apierrors"
	"github.com/cedricziel/gluepoint/pkg/secretmask"
	"github.com/cedricziel/gluepoint/pkg/stepexec"
	"github.com/cedricziel/gluepoint/pkg/substitution"
)

// maxPayloadSampleChars bounds the payload sample included in the repair
// prompt, per spec.md §4.5's "sampled payload (≤ contextLength/10 chars)".
const maxPayloadSampleChars = 2000

// maxErrorMessageChars bounds the masked error text appended to the
// session, per spec.md §4.5 step 2.
const maxErrorMessageChars = 2000

// maxToolIterations bounds searchDocumentation round-trips within one
// repair attempt, guarding against a misbehaving model never calling
// submit.
const maxToolIterations = 20

// DocSearcher answers searchDocumentation tool calls against an
// integration's stored documentation.
type DocSearcher interface {
	Search(ctx context.Context, integration api.Integration, query string) (string, error)
}

// Executor runs one resolved step, the contract stepexec.Executor
// satisfies.
type Executor interface {
	Execute(ctx context.Context, orgID string, step api.ExecutionStep, scope substitution.Scope, opts api.ExecutionOptions) (*stepexec.Result, error)
}

// Evaluator judges whether a successful call's response actually satisfies
// the step's instruction.
type Evaluator interface {
	Evaluate(ctx context.Context, data any, instruction, documentation string) (EvaluationVerdict, error)
}

// EvaluationVerdict is the LLM response evaluator's verdict shape from
// spec.md §4.5 step 1.
type EvaluationVerdict struct {
	Success        bool   `json:"success"`
	RefactorNeeded bool   `json:"refactorNeeded"`
	ShortReason    string `json:"shortReason"`
}

// Coordinator runs the self-healing loop of spec.md §4.5 around an
// Executor.
type Coordinator struct {
	client    *openai.Client
	model     string
	masker    *secretmask.Masker
	exec      Executor
	docs      DocSearcher
	evaluator Evaluator
}

// New creates a Coordinator. docs and evaluator may be nil: with no docs,
// searchDocumentation calls report that no documentation source is
// configured; with no evaluator, a successful call is accepted without a
// verdict.
func New(client *openai.Client, model string, masker *secretmask.Masker, exec Executor, docs DocSearcher, evaluator Evaluator) *Coordinator {
	if masker == nil {
		masker = secretmask.New()
	}
	return &Coordinator{client: client, model: model, masker: masker, exec: exec, docs: docs, evaluator: evaluator}
}

var toolDefinitions = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "searchDocumentation",
			Description: "Search the integration's documentation for guidance relevant to a query.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "submit",
			Description: "Submit either a repaired ApiConfig or a fatal error string if the call cannot be made to succeed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"config": map[string]any{"type": "object"},
					"error":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

// Run executes step, repairing step.ApiConfig through the LLM loop on
// failure, up to opts.Retries (default api.Defaults.CallRetries) attempts.
// Returns the successful result and the (possibly repaired) config that
// produced it, so the caller can persist the repair.
func (c *Coordinator) Run(ctx context.Context, orgID string, step api.ExecutionStep, integration api.Integration, scope substitution.Scope, opts api.ExecutionOptions) (*stepexec.Result, api.ApiConfig, error) {
	cfg := step.ApiConfig
	mode := opts.SelfHealing
	if mode == "" {
		mode = api.SelfHealingEnabled
	}

	if mode == api.SelfHealingDisabled {
		res, err := c.exec.Execute(ctx, orgID, step, scope, opts)
		return res, cfg, err
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = api.Defaults.CallRetries
	}

	var messages []openai.ChatCompletionMessage
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptStep := step
		attemptStep.ApiConfig = cfg

		res, err := c.exec.Execute(ctx, orgID, attemptStep, scope, opts)
		if err == nil {
			if (mode == api.SelfHealingEnabled || mode == api.SelfHealingRequestOnly) && c.evaluator != nil {
				verdict, evalErr := c.evaluator.Evaluate(ctx, res.Data, cfg.Instruction, integration.Documentation)
				if evalErr != nil {
					err = fmt.Errorf("response evaluator failed: %w", evalErr)
				} else if !verdict.Success {
					err = &apierrors.AbortError{Message: verdict.ShortReason}
				}
			}
			if err == nil {
				return res, cfg, nil
			}
		}

		lastErr = err
		if !apierrors.IsRetryable(err) {
			return nil, cfg, err
		}
		if attempt == retries {
			break
		}

		errMsg := truncate(c.masker.Mask(err.Error()), maxErrorMessageChars)
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("The call failed: %s", errMsg),
		})

		temperature := float64(attempt+1) * 0.1
		if temperature > 1 {
			temperature = 1
		}

		repaired, repairErr := c.repair(ctx, &messages, cfg, integration, scope, temperature)
		if repairErr != nil {
			return nil, cfg, repairErr
		}
		cfg = repaired
	}

	return nil, cfg, &apierrors.ApiCallError{Message: c.masker.Mask(errString(lastErr))}
}

// repair drives one round of the searchDocumentation/submit tool loop and
// returns the repaired config.
func (c *Coordinator) repair(ctx context.Context, messages *[]openai.ChatCompletionMessage, cfg api.ApiConfig, integration api.Integration, scope substitution.Scope, temperature float64) (api.ApiConfig, error) {
	if len(*messages) == 0 || (*messages)[0].Role != openai.ChatMessageRoleSystem {
		*messages = append([]openai.ChatCompletionMessage{c.systemMessage(cfg, integration, scope)}, *messages...)
	}

	for i := 0; i < maxToolIterations; i++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    *messages,
			Tools:       toolDefinitions,
			Temperature: float32(temperature),
		})
		if err != nil {
			return api.ApiConfig{}, fmt.Errorf("self-healing llm call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return api.ApiConfig{}, errors.New("self-healing llm returned no choices")
		}

		msg := resp.Choices[0].Message
		*messages = append(*messages, msg)

		if len(msg.ToolCalls) == 0 {
			*messages = append(*messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: "You must call searchDocumentation or submit.",
			})
			continue
		}

		for _, tc := range msg.ToolCalls {
			switch tc.Function.Name {
			case "searchDocumentation":
				result := c.runSearch(ctx, integration, tc.Function.Arguments)
				*messages = append(*messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: tc.ID,
					Content:    result,
				})
			case "submit":
				return c.runSubmit(tc.Function.Arguments)
			default:
				*messages = append(*messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: tc.ID,
					Content:    "unknown tool",
				})
			}
		}
	}

	return api.ApiConfig{}, fmt.Errorf("self-healing llm exceeded %d tool iterations without calling submit", maxToolIterations)
}

func (c *Coordinator) runSearch(ctx context.Context, integration api.Integration, rawArgs string) string {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Sprintf("invalid searchDocumentation arguments: %v", err)
	}
	if c.docs == nil {
		return "no documentation source configured"
	}
	result, err := c.docs.Search(ctx, integration, args.Query)
	if err != nil {
		return fmt.Sprintf("search error: %v", err)
	}
	return result
}

func (c *Coordinator) runSubmit(rawArgs string) (api.ApiConfig, error) {
	var args struct {
		Config json.RawMessage `json:"config"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return api.ApiConfig{}, fmt.Errorf("self-healing llm submitted invalid arguments: %w", err)
	}
	if args.Error != "" {
		return api.ApiConfig{}, &apierrors.AbortError{Message: args.Error}
	}
	if len(args.Config) == 0 {
		return api.ApiConfig{}, errors.New("self-healing llm submitted neither a config nor an error")
	}
	var repaired api.ApiConfig
	if err := json.Unmarshal(args.Config, &repaired); err != nil {
		return api.ApiConfig{}, fmt.Errorf("self-healing llm submitted invalid config: %w", err)
	}
	return repaired, nil
}

func (c *Coordinator) systemMessage(cfg api.ApiConfig, integration api.Integration, scope substitution.Scope) openai.ChatCompletionMessage {
	cfgJSON, _ := json.MarshalIndent(cfg, "", "  ")
	payloadSample := samplePayload(scope)
	credNames := credentialNames(integration.Credentials)

	var b strings.Builder
	b.WriteString("You repair a failing API call configuration. ")
	b.WriteString("Call searchDocumentation to look up integration docs, then call submit with either a corrected config or an error string if the call cannot succeed.\n\n")
	fmt.Fprintf(&b, "Current config:\n%s\n\n", cfgJSON)
	if integration.SpecificInstructions != "" {
		fmt.Fprintf(&b, "Integration-specific instructions:\n%s\n\n", integration.SpecificInstructions)
	}
	fmt.Fprintf(&b, "Sample payload:\n%s\n\n", payloadSample)
	fmt.Fprintf(&b, "Available credential names: %s\n", strings.Join(credNames, ", "))

	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: b.String()}
}

func samplePayload(scope substitution.Scope) string {
	b, err := json.Marshal(scope)
	if err != nil {
		return ""
	}
	return truncate(string(b), maxPayloadSampleChars)
}

func credentialNames(creds map[string]any) []string {
	names := make([]string, 0, len(creds))
	for k := range creds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
