// Package api defines the data model the runtime executes against:
// ApiConfig, Workflow, Integration, and the result shapes they produce.
//
// These are plain structs, deliberately free of behavior — the execution
// packages (pkg/stepexec, pkg/workflow, pkg/healing) operate on them, and
// pkg/datastore persists them. Keeping them dependency-free lets every
// other package import this one without a cycle.
package api

import "time"

// HTTPMethod enumerates the methods an ApiConfig may issue.
type HTTPMethod string

const (
	MethodGET     HTTPMethod = "GET"
	MethodPOST    HTTPMethod = "POST"
	MethodPUT     HTTPMethod = "PUT"
	MethodDELETE  HTTPMethod = "DELETE"
	MethodPATCH   HTTPMethod = "PATCH"
	MethodHEAD    HTTPMethod = "HEAD"
	MethodOPTIONS HTTPMethod = "OPTIONS"
)

// AuthType enumerates how an ApiConfig authenticates its requests.
type AuthType string

const (
	AuthNone      AuthType = "NONE"
	AuthHeader    AuthType = "HEADER"
	AuthQueryParam AuthType = "QUERY_PARAM"
	AuthOAuth2    AuthType = "OAUTH2"
)

// PaginationType enumerates the supported pagination strategies.
type PaginationType string

const (
	PaginationOffsetBased PaginationType = "OFFSET_BASED"
	PaginationPageBased   PaginationType = "PAGE_BASED"
	PaginationCursorBased PaginationType = "CURSOR_BASED"
	PaginationDisabled    PaginationType = "DISABLED"
)

// Pagination describes how a paginated ApiConfig advances between requests.
type Pagination struct {
	Type          PaginationType `json:"type"`
	PageSize      string         `json:"pageSize"`
	CursorPath    string         `json:"cursorPath,omitempty"`
	StopCondition string         `json:"stopCondition,omitempty"`
}

// EffectivePageSize returns PageSize, defaulting to "50" per spec.
func (p Pagination) EffectivePageSize() string {
	if p.PageSize == "" {
		return "50"
	}
	return p.PageSize
}

// ApiConfig is a single parameterized HTTP/SQL call.
type ApiConfig struct {
	ID              string            `json:"id"`
	OrgID           string            `json:"orgId"`
	URLHost         string            `json:"urlHost"`
	URLPath         string            `json:"urlPath"`
	Method          HTTPMethod        `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	QueryParams     map[string]string `json:"queryParams,omitempty"`
	Body            string            `json:"body,omitempty"`
	Authentication  AuthType          `json:"authentication"`
	Pagination      *Pagination       `json:"pagination,omitempty"`
	DataPath        string            `json:"dataPath,omitempty"`
	ResponseSchema  map[string]any    `json:"responseSchema,omitempty"`
	ResponseMapping string            `json:"responseMapping,omitempty"`
	Instruction     string            `json:"instruction,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ExecutionMode enumerates how a workflow step is iterated.
type ExecutionMode string

const (
	ExecutionDirect ExecutionMode = "DIRECT"
	ExecutionLoop   ExecutionMode = "LOOP"
)

// ExecutionStep is one node in a Workflow: a call, possibly looped, with
// input and response mappings threading data to and from its neighbors.
type ExecutionStep struct {
	ID              string         `json:"id"`
	ApiConfig       ApiConfig      `json:"apiConfig"`
	IntegrationID   string         `json:"integrationId,omitempty"`
	ExecutionMode   ExecutionMode  `json:"executionMode"`
	LoopSelector    string         `json:"loopSelector,omitempty"`
	LoopMaxIters    int            `json:"loopMaxIters,omitempty"`
	InputMapping    string         `json:"inputMapping,omitempty"`
	ResponseMapping string         `json:"responseMapping,omitempty"`
}

// Workflow is an ordered sequence of steps producing one result via a final
// transform.
type Workflow struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"orgId"`
	Steps          []ExecutionStep `json:"steps"`
	IntegrationIDs []string        `json:"integrationIds"`
	Instruction    string          `json:"instruction,omitempty"`
	InputSchema    map[string]any  `json:"inputSchema,omitempty"`
	ResponseSchema map[string]any  `json:"responseSchema,omitempty"`
	FinalTransform string          `json:"finalTransform,omitempty"`
	CronSchedule   string          `json:"cronSchedule,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// OAuthCredentials is the subset of Integration.Credentials an OAuth2
// integration additionally carries.
type OAuthCredentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
}

// Integration is a named third-party API with credentials, documentation,
// and URL patterns.
type Integration struct {
	ID                   string            `json:"id"`
	OrgID                string            `json:"orgId"`
	Name                 string            `json:"name"`
	URLHost              string            `json:"urlHost"`
	URLPath              string            `json:"urlPath,omitempty"`
	Credentials          map[string]any    `json:"credentials,omitempty"`
	Documentation        string            `json:"documentation,omitempty"`
	DocumentationURL     string            `json:"documentationUrl,omitempty"`
	OpenApiSchema        string            `json:"openApiSchema,omitempty"`
	SpecificInstructions string            `json:"specificInstructions,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// RunResult is the outcome of a single ApiConfig execution.
type RunResult struct {
	ID          string         `json:"id"`
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Config      ApiConfig      `json:"config"`
	StatusCode  int            `json:"statusCode,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// StepResult is the outcome of one ExecutionStep within a WorkflowResult.
type StepResult struct {
	StepID          string `json:"stepId"`
	Success         bool   `json:"success"`
	RawData         any    `json:"rawData,omitempty"`
	TransformedData any    `json:"transformedData,omitempty"`
	Error           string `json:"error,omitempty"`
}

// WorkflowResult is the outcome of an ExecuteWorkflow call. The engine
// always returns one of these, success=false and Error populated on
// failure, rather than an uncaught error at the API boundary.
type WorkflowResult struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	StepResults []StepResult   `json:"stepResults"`
}

// SelfHealingMode enumerates the self-healing coordinator's operating
// modes for a given step or workflow run.
type SelfHealingMode string

const (
	SelfHealingEnabled       SelfHealingMode = "ENABLED"
	SelfHealingRequestOnly   SelfHealingMode = "REQUEST_ONLY"
	SelfHealingTransformOnly SelfHealingMode = "TRANSFORM_ONLY"
	SelfHealingDisabled      SelfHealingMode = "DISABLED"
)

// ExecutionOptions configure a single step's execution and the self-healing
// loop wrapping it.
type ExecutionOptions struct {
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
	CacheMode    string
	SelfHealing  SelfHealingMode
	TestMode     bool
	WebhookURL   string

	// WorkflowTimeout bounds the whole ExecuteWorkflow call, independent of
	// any single step's Timeout.
	WorkflowTimeout time.Duration
}

// Defaults mirrors server_defaults from spec.md §4 and §5.
var Defaults = struct {
	CallTimeout          time.Duration
	WorkflowTimeout      time.Duration
	CallRetries          int
	MaxPaginationRequests int
	MaxLoopIterations    int
	MaxLoopConcurrency   int
	ExpressionTimeout    time.Duration
}{
	CallTimeout:           60 * time.Second,
	WorkflowTimeout:       5 * time.Minute,
	CallRetries:           8,
	MaxPaginationRequests: 1000,
	MaxLoopIterations:     1000,
	MaxLoopConcurrency:    5,
	ExpressionTimeout:     30 * time.Second,
}
