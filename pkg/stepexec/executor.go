// Package stepexec resolves one ExecutionStep's ApiConfig against a scope
// and runs it, routing to the Postgres or HTTP/pagination transport per
// spec.md §4.4.
//
// Grounded on the teacher's pkg/execution/engine.go ExecuteStep
// (find-definition → build-context → execute → record) control flow,
// adapted from its node-definition dispatch to the spec's single-call
// contract: resolve placeholders, pick a transport by URL scheme, execute.
package stepexec

import (
	"context"
	"fmt"

	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/apierrors"
	"github.com/cedricziel/gluepoint/pkg/httpcaller"
	"github.com/cedricziel/gluepoint/pkg/pagination"
	"github.com/cedricziel/gluepoint/pkg/pgcaller"
	"github.com/cedricziel/gluepoint/pkg/substitution"
)

// OAuthHeaderSource resolves the Authorization header for an OAuth-backed
// integration, refreshing the token first if it is expired. Implemented by
// pkg/oauth; declared here as a narrow interface so stepexec doesn't need
// to import the datastore/credential machinery oauth depends on.
type OAuthHeaderSource interface {
	Headers(ctx context.Context, orgID, integrationID string) (map[string]string, error)
}

// Result is what executing one step produces.
type Result struct {
	Data       any
	StatusCode int
	Headers    map[string]string
}

// Executor runs an ExecutionStep's ApiConfig against a resolved scope.
type Executor struct {
	http  *httpcaller.Caller
	pg    *pgcaller.Caller
	pager *pagination.Driver
	oauth OAuthHeaderSource
}

// New creates an Executor. oauth may be nil when no step in this process
// ever uses api.AuthOAuth2.
func New(http *httpcaller.Caller, pg *pgcaller.Caller, pager *pagination.Driver, oauth OAuthHeaderSource) *Executor {
	return &Executor{http: http, pg: pg, pager: pager, oauth: oauth}
}

// Execute resolves step.ApiConfig's placeholders against scope and runs it,
// returning {data, statusCode, headers} per spec.md §4.4.
func (e *Executor) Execute(ctx context.Context, orgID string, step api.ExecutionStep, scope substitution.Scope, opts api.ExecutionOptions) (*Result, error) {
	cfg := step.ApiConfig

	host := substitution.Resolve(cfg.URLHost, scope)
	path := substitution.Resolve(cfg.URLPath, scope)

	if pgcaller.IsPostgresURL(host) {
		return e.executePostgres(ctx, host+path, cfg, scope, opts)
	}
	return e.executeHTTP(ctx, orgID, host+path, step, scope, opts)
}

func (e *Executor) executePostgres(ctx context.Context, dsn string, cfg api.ApiConfig, scope substitution.Scope, opts api.ExecutionOptions) (*Result, error) {
	sqlText := substitution.Resolve(cfg.Body, scope)

	resp, err := e.pg.Do(ctx, pgcaller.Query{DSN: dsn, SQL: sqlText, Timeout: opts.Timeout})
	if err != nil {
		return nil, &apierrors.ApiCallError{Message: fmt.Sprintf("postgres query failed: %v", err)}
	}

	data := pagination.ExtractDataPath(resp.Data, cfg.DataPath)
	return &Result{Data: data, StatusCode: resp.Status, Headers: resp.Headers}, nil
}

func (e *Executor) executeHTTP(ctx context.Context, orgID, url string, step api.ExecutionStep, scope substitution.Scope, opts api.ExecutionOptions) (*Result, error) {
	cfg := step.ApiConfig

	headers := substitution.FilterEmpty(substitution.ResolveMap(cfg.Headers, scope))
	query := substitution.FilterEmpty(substitution.ResolveMap(cfg.QueryParams, scope))
	body := substitution.Resolve(cfg.Body, scope)

	if cfg.Authentication == api.AuthOAuth2 {
		if e.oauth == nil {
			return nil, &apierrors.AbortError{Message: "step requires OAuth2 authentication but no OAuth subsystem is configured"}
		}
		oauthHeaders, err := e.oauth.Headers(ctx, orgID, step.IntegrationID)
		if err != nil {
			return nil, &apierrors.TokenRefreshFailed{IntegrationID: step.IntegrationID, Message: err.Error()}
		}
		for k, v := range oauthHeaders {
			headers[k] = v
		}
	}

	retries := opts.Retries
	timeout := opts.Timeout

	requestFn := func(ctx context.Context, vars map[string]any) (*httpcaller.Response, error) {
		reqURL := url
		reqQuery := query
		if len(vars) > 0 {
			pageScope := substitution.Merge(scope, substitution.Scope(vars))
			reqURL = substitution.Resolve(cfg.URLHost, pageScope) + substitution.Resolve(cfg.URLPath, pageScope)
			reqQuery = substitution.FilterEmpty(substitution.ResolveMap(cfg.QueryParams, pageScope))
		}
		return e.http.Do(ctx, httpcaller.Request{
			Method:  string(cfg.Method),
			URL:     reqURL,
			Headers: headers,
			Query:   reqQuery,
			Body:    body,
			Timeout: timeout,
			Retries: retries,
		})
	}

	var pag api.Pagination
	if cfg.Pagination != nil {
		pag = *cfg.Pagination
	}

	result, err := e.pager.Run(ctx, pag, cfg.DataPath, requestFn)
	if err != nil {
		return nil, err
	}
	return &Result{Data: result.Data, StatusCode: result.Status, Headers: result.Headers}, nil
}
