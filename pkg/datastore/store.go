// Package datastore implements the three interchangeable backends of
// spec.md §4.8 — Memory, File, and Postgres — behind one Store interface.
//
// All operations are orgId-scoped: every row is keyed by (orgId, id) at
// minimum, so two tenants upserting the same id never collide. Per spec.md
// §9 Open Question: the original system separated "api"/"extract"/
// "transform" configuration types within one configurations table;
// gluepoint's api.ApiConfig already generalizes extract/transform semantics
// into dataPath/responseMapping, so the Go-level Store interface carries no
// separate type discriminator beyond Configs vs. Workflows — PostgresStore's
// underlying table still carries a config_type column (always "api" today)
// to match spec.md §4.8's literal (id, type, orgId) key shape. A deliberate
// simplification recorded in DESIGN.md.
package datastore

import (
	"context"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// Store is the interface every backend implements. Missing entities return
// a nil error from Get*: (nil, nil) from the pointer-returning methods, and
// a zero-value Integration (empty ID) from GetIntegration. GetMany*
// silently skips missing ids rather than erroring, per spec.md §4.8.
type Store interface {
	GetConfig(ctx context.Context, orgID, id string) (*api.ApiConfig, error)
	GetManyConfigs(ctx context.Context, orgID string, ids []string) ([]api.ApiConfig, error)
	ListConfigs(ctx context.Context, orgID string) ([]api.ApiConfig, error)
	UpsertConfig(ctx context.Context, orgID string, cfg api.ApiConfig) error
	DeleteConfig(ctx context.Context, orgID, id string) error

	GetWorkflow(ctx context.Context, orgID, id string) (*api.Workflow, error)
	GetManyWorkflows(ctx context.Context, orgID string, ids []string) ([]api.Workflow, error)
	ListWorkflows(ctx context.Context, orgID string) ([]api.Workflow, error)
	UpsertWorkflow(ctx context.Context, orgID string, wf api.Workflow) error
	DeleteWorkflow(ctx context.Context, orgID, id string) error

	// GetIntegration/UpsertIntegration/UpdateIntegration satisfy both the
	// general CRUD surface and pkg/oauth's narrower IntegrationStore
	// interface (UpdateIntegration is an alias for UpsertIntegration: an
	// OAuth refresh always writes back to an id that already exists).
	GetIntegration(ctx context.Context, orgID, id string) (api.Integration, error)
	GetManyIntegrations(ctx context.Context, orgID string, ids []string) ([]api.Integration, error)
	ListIntegrations(ctx context.Context, orgID string) ([]api.Integration, error)
	UpsertIntegration(ctx context.Context, orgID string, integration api.Integration) error
	UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error
	DeleteIntegration(ctx context.Context, orgID, id string) error

	RecordRun(ctx context.Context, orgID string, run api.RunResult) error
	ListRuns(ctx context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error)

	GetTenantInfo(ctx context.Context, orgID string) (map[string]any, error)
	SetTenantInfo(ctx context.Context, orgID string, info map[string]any) error

	// ListOrgIDs returns every orgId known to have at least one workflow,
	// so pkg/scheduler can sync cron jobs across tenants without a
	// separate tenant directory.
	ListOrgIDs(ctx context.Context) ([]string, error)

	Close() error
}

// newerFirst orders runs by StartedAt descending, ties broken by
// insertion order (stable sort preserves original relative order for
// equal keys), per spec.md §5's run-list ordering guarantee.
func newerFirst(runs []api.RunResult) {
	sortStableByStartedAtDesc(runs)
}

func sortStableByStartedAtDesc(runs []api.RunResult) {
	for i := 1; i < len(runs); i++ {
		j := i
		for j > 0 && runs[j-1].StartedAt.Before(runs[j].StartedAt) {
			runs[j-1], runs[j] = runs[j], runs[j-1]
			j--
		}
	}
}

func paginate(runs []api.RunResult, limit, offset int) []api.RunResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return []api.RunResult{}
	}
	end := len(runs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return runs[offset:end]
}

func filterByConfig(runs []api.RunResult, configID string) []api.RunResult {
	if configID == "" {
		return runs
	}
	out := make([]api.RunResult, 0, len(runs))
	for _, r := range runs {
		if r.Config.ID == configID {
			out = append(out, r)
		}
	}
	return out
}
