// Package httpapi is gluepoint's REST surface: health/readiness probes,
// a webhook receiver that triggers a saved workflow, run inspection, and
// a websocket log stream — deliberately NOT a GraphQL server (the
// external-collaborator-facing GraphQL schema is out of scope per
// SPEC_FULL.md's Non-goals). The router assembly (chi + middleware
// stack, health/readiness handlers, graceful shutdown left to the
// caller) follows the teacher's cmd/server/main.go startServer/
// internal/api/router.go almost directly.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// WorkflowRunner executes a saved workflow, matching
// pkg/workflow.Engine.Execute.
type WorkflowRunner interface {
	Execute(ctx context.Context, orgID string, wf api.Workflow, payload any, credentials map[string]any, opts api.ExecutionOptions) (*api.WorkflowResult, error)
}

// Store is the subset of pkg/datastore.Store the HTTP surface reads and
// writes directly.
type Store interface {
	GetWorkflow(ctx context.Context, orgID, id string) (*api.Workflow, error)
	GetIntegration(ctx context.Context, orgID, id string) (api.Integration, error)
	ListRuns(ctx context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error)
	RecordRun(ctx context.Context, orgID string, run api.RunResult) error
	Close() error
}

// Pinger reports backend health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router assembles gluepoint's HTTP surface.
type Router struct {
	store     Store
	runner    WorkflowRunner
	pinger    Pinger
	authToken string
}

// New creates a Router. authToken, if non-empty, is required as a
// Bearer token on every route except /health and /ready.
func New(store Store, runner WorkflowRunner, pinger Pinger, authToken string) *Router {
	return &Router{store: store, runner: runner, pinger: pinger, authToken: authToken}
}

// Handler builds the chi mux: health/ready are open, everything else
// requires bearer auth when authToken is configured.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(rt.requireAuth)
		r.Post("/webhooks/{orgID}/{workflowID}", rt.handleWebhook)
		r.Get("/orgs/{orgID}/runs", rt.handleListRuns)
		r.Get("/ws/{runID}", rt.handleWebsocket)
	})

	return r
}

func (rt *Router) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+rt.authToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	status := "ready"

	if rt.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := rt.pinger.Ping(ctx); err != nil {
			checks["datastore"] = map[string]string{"status": "unhealthy", "error": err.Error()}
			status = "not_ready"
		} else {
			checks["datastore"] = map[string]string{"status": "healthy"}
		}
	}

	code := http.StatusOK
	if status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleWebhook triggers a saved workflow's execution, per spec.md's
// webhook-triggered re-execution: the body is decoded as the workflow's
// payload, and the run outcome is recorded the same as a scheduled run.
func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	workflowID := chi.URLParam(r, "workflowID")

	wf, err := rt.store.GetWorkflow(r.Context(), orgID, workflowID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if wf == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}

	var payload any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
			return
		}
	}

	startedAt := time.Now()
	result, err := rt.runner.Execute(r.Context(), orgID, *wf, payload, map[string]any{}, api.ExecutionOptions{})

	run := api.RunResult{
		ID:          fmt.Sprintf("%s-%d", wf.ID, startedAt.UnixNano()),
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Config:      api.ApiConfig{ID: wf.ID},
	}
	if err != nil {
		run.Success = false
		run.Error = err.Error()
	} else {
		run.Success = result.Success
		run.Data = result.Data
		run.Error = result.Error
	}
	_ = rt.store.RecordRun(r.Context(), orgID, run)

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) handleListRuns(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	configID := r.URL.Query().Get("configId")

	runs, err := rt.store.ListRuns(r.Context(), orgID, limit, offset, configID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
