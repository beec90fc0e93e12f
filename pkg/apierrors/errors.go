// Package apierrors defines the error taxonomy the execution runtime raises.
//
// These are not exhaustive Go types meant to be exposed to callers one by
// one; they are a small, closed set of shapes the self-healing coordinator
// switches on to decide whether to repair or give up.
package apierrors

import "fmt"

// ApiCallError represents a remote failure or a malformed response from an
// HTTP or Postgres call. Config is the masked ApiConfig snapshot in effect
// at the time of the failure.
type ApiCallError struct {
	StatusCode int
	Message    string
	Config     any
}

func (e *ApiCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api call failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api call failed: %s", e.Message)
}

// Retryable reports whether the self-healing coordinator should attempt a
// repair, as opposed to surfacing the error immediately.
func (e *ApiCallError) Retryable() bool { return true }

// AbortError is a non-retryable semantic error, either raised by the
// response validator or returned by the LLM repair loop itself. Healing
// bypasses repair entirely when it sees one.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string   { return "aborted: " + e.Message }
func (e *AbortError) Retryable() bool { return false }

// PaginationConfigError fires when the first two pages of a paginated
// source return identical, non-empty data — a sign the pagination
// parameters (offset, cursor, page) are not actually varying between
// requests.
type PaginationConfigError struct {
	Message string
}

func (e *PaginationConfigError) Error() string {
	return "pagination parameters are not varying between requests: " + e.Message
}
func (e *PaginationConfigError) Retryable() bool { return true }

// StopConditionError fires when both of the first two pages returned empty
// data and the stopCondition predicate never evaluated true.
type StopConditionError struct {
	Message string
}

func (e *StopConditionError) Error() string   { return "stop condition never satisfied: " + e.Message }
func (e *StopConditionError) Retryable() bool { return true }

// HtmlResponseError fires when a response body looks like an HTML document
// rather than the structured payload the caller expected — typically a
// login wall, a CDN error page, or a misconfigured URL.
type HtmlResponseError struct {
	Snippet string
}

func (e *HtmlResponseError) Error() string {
	return "Received HTML response instead of expected data format: " + e.Snippet
}
func (e *HtmlResponseError) Retryable() bool { return true }

// RateLimitExceeded fires when a 429 response's Retry-After would force a
// wait longer than the caller's budget.
type RateLimitExceeded struct {
	WaitFor string
}

func (e *RateLimitExceeded) Error() string {
	return "rate limit exceeded, required wait (" + e.WaitFor + ") exceeds budget"
}
func (e *RateLimitExceeded) Retryable() bool { return false }

// TokenRefreshFailed fires when an OAuth refresh-token exchange fails.
type TokenRefreshFailed struct {
	IntegrationID string
	Message       string
}

func (e *TokenRefreshFailed) Error() string {
	return fmt.Sprintf("oauth token refresh failed for integration %s: %s", e.IntegrationID, e.Message)
}
func (e *TokenRefreshFailed) Retryable() bool { return false }

// DatastoreError wraps a backend-specific persistence failure.
type DatastoreError struct {
	Op      string
	Message string
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("datastore %s failed: %s", e.Op, e.Message)
}
func (e *DatastoreError) Retryable() bool { return false }

// TimeoutError fires when a request-level or workflow-level deadline
// elapses before the operation completes.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string   { return "timed out: " + e.Op }
func (e *TimeoutError) Retryable() bool { return true }

// retryable is implemented by every error type above.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is one of the taxonomy types and, if so,
// whether the self-healing coordinator should attempt a repair rather than
// surface it immediately. Unknown error types are treated as retryable so a
// transient, unclassified failure still gets a healing attempt.
func IsRetryable(err error) bool {
	if r, ok := err.(retryable); ok {
		return r.Retryable()
	}
	return true
}
