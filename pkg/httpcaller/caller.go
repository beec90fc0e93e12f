// Package httpcaller performs a single HTTP request with retries, timeout,
// 429 handling, and credential masking, per spec.md §4.2.
//
// The retry/backoff shape is adapted from tombee/conductor's
// pkg/httpclient retryTransport: exponential backoff with jitter, a
// Retry-After-aware wait, and a distinction between transient transport
// errors (retried) and semantic HTTP failures (not retried by this layer —
// those are the self-healing coordinator's job). Unlike conductor's
// http.RoundTripper wrapper, this package returns the spec's
// {status,data,headers,statusText} tuple directly rather than an
// *http.Response, since callers (the pagination driver) need the decoded
// body either way.
package httpcaller

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cedricziel/gluepoint/pkg/apierrors"
	"github.com/cedricziel/gluepoint/pkg/secretmask"
)

// Request is a fully-resolved HTTP call: every placeholder has already
// been substituted by the step executor.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    string
	Timeout time.Duration
	Retries int
}

// Response is the shape the spec asks HTTP and Postgres callers to return
// symmetrically.
type Response struct {
	Status     int
	Data       any
	Headers    map[string]string
	StatusText string
}

// maxRateLimitWait is the ceiling beyond which a 429's Retry-After is
// treated as a hard failure rather than slept through, per spec.md §4.2.
const maxRateLimitWait = 60 * time.Second

// defaultMaxBackoff caps exponential backoff between retries.
const defaultMaxBackoff = 60 * time.Second

// Caller performs single HTTP requests with retry/backoff and credential
// masking of any surfaced error.
type Caller struct {
	client *http.Client
	masker *secretmask.Masker
}

// New creates a Caller. masker may be nil, in which case no masking is
// applied (used for callers with no known credentials in scope).
func New(masker *secretmask.Masker) *Caller {
	if masker == nil {
		masker = secretmask.New()
	}
	return &Caller{
		client: &http.Client{},
		masker: masker,
	}
}

// Do issues req, retrying transient transport errors and 5xx/408/429
// responses up to req.Retries times (default 8) with exponential backoff
// capped at 60s. A 429 whose Retry-After would exceed the 60s budget fails
// immediately with apierrors.RateLimitExceeded rather than sleeping.
func (c *Caller) Do(ctx context.Context, req Request) (*Response, error) {
	retries := req.Retries
	if retries <= 0 {
		retries = 8
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &apierrors.TimeoutError{Op: "http request backoff wait"}
			}
		}

		resp, retryAfter, err := c.attempt(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}

		if rl, ok := err.(*apierrors.RateLimitExceeded); ok {
			return nil, rl
		}

		lastErr = err
		if !isRetryableTransportError(err) && retryAfter == 0 {
			break
		}
		if retryAfter > 0 {
			if retryAfter > maxRateLimitWait {
				return nil, &apierrors.RateLimitExceeded{WaitFor: retryAfter.String()}
			}
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return nil, &apierrors.TimeoutError{Op: "http request rate-limit wait"}
			}
		}
	}
	return nil, c.maskError(lastErr)
}

// attempt performs a single HTTP round trip. The second return value is a
// non-zero Retry-After wait when the caller should pause before the next
// attempt rather than use plain exponential backoff.
func (c *Caller) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := req.URL
	if len(req.Query) > 0 {
		u, err := url.Parse(fullURL)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid URL: %w", err)
		}
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	for k, v := range normalizeHeaders(req.Headers) {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, wait, &apierrors.ApiCallError{StatusCode: resp.StatusCode, Message: "rate limited"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &apierrors.ApiCallError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("non-2xx response: %s", string(bodyBytes)),
		}
	}

	return &Response{
		Status:     resp.StatusCode,
		Data:       string(bodyBytes),
		Headers:    headers,
		StatusText: resp.Status,
	}, 0, nil
}

// normalizeHeaders applies the Basic/Bearer dedupe and Base64 rules from
// spec.md §4.2: an Authorization: Basic <x> header gets <x> Base64-encoded
// if it isn't already, and accidental "Basic Basic"/"Bearer Bearer"
// doubling is collapsed.
func normalizeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Authorization") {
			v = normalizeAuthorizationHeader(v)
		}
		out[k] = v
	}
	return out
}

func normalizeAuthorizationHeader(v string) string {
	v = dedupePrefix(v, "Basic")
	v = dedupePrefix(v, "Bearer")

	const basicPrefix = "Basic "
	if strings.HasPrefix(v, basicPrefix) {
		cred := strings.TrimPrefix(v, basicPrefix)
		if !isBase64(cred) {
			cred = base64.StdEncoding.EncodeToString([]byte(cred))
		}
		v = basicPrefix + cred
	}
	return v
}

func dedupePrefix(v, scheme string) string {
	doubled := scheme + " " + scheme + " "
	if strings.HasPrefix(v, doubled) {
		return scheme + " " + strings.TrimPrefix(v, doubled)
	}
	return v
}

func isBase64(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	if backoff > float64(defaultMaxBackoff) {
		backoff = float64(defaultMaxBackoff)
	}
	jitter := rand.Float64() * backoff * 0.2
	return time.Duration(backoff + jitter)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*apierrors.ApiCallError); ok {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"connection refused", "connection reset", "no such host", "eof", "network unreachable"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (c *Caller) maskError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", c.masker.Mask(err.Error()))
}
