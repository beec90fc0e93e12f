package datastore

import (
	"context"
	"sync"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// MemoryStore is an in-process, non-persistent Store — the teacher's
// `pkg/execution/mock.go` style of an in-memory stand-in, generalized here
// from a test double into a first-class backend per spec.md §4.8 (the
// DATASTORE_TYPE=memory option).
type MemoryStore struct {
	mu           sync.RWMutex
	configs      map[string]map[string]api.ApiConfig  // orgID -> id -> config
	workflows    map[string]map[string]api.Workflow    // orgID -> id -> workflow
	integrations map[string]map[string]api.Integration // orgID -> id -> integration
	runs         map[string][]api.RunResult            // orgID -> runs
	tenantInfo   map[string]map[string]any             // orgID -> info
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:      make(map[string]map[string]api.ApiConfig),
		workflows:    make(map[string]map[string]api.Workflow),
		integrations: make(map[string]map[string]api.Integration),
		runs:         make(map[string][]api.RunResult),
		tenantInfo:   make(map[string]map[string]any),
	}
}

func (s *MemoryStore) GetConfig(_ context.Context, orgID, id string) (*api.ApiConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[orgID][id]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *MemoryStore) GetManyConfigs(_ context.Context, orgID string, ids []string) ([]api.ApiConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ApiConfig, 0, len(ids))
	for _, id := range ids {
		if cfg, ok := s.configs[orgID][id]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListConfigs(_ context.Context, orgID string) ([]api.ApiConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ApiConfig, 0, len(s.configs[orgID]))
	for _, cfg := range s.configs[orgID] {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *MemoryStore) UpsertConfig(_ context.Context, orgID string, cfg api.ApiConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configs[orgID] == nil {
		s.configs[orgID] = make(map[string]api.ApiConfig)
	}
	s.configs[orgID][cfg.ID] = cfg
	return nil
}

func (s *MemoryStore) DeleteConfig(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs[orgID], id)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, orgID, id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[orgID][id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (s *MemoryStore) GetManyWorkflows(_ context.Context, orgID string, ids []string) ([]api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Workflow, 0, len(ids))
	for _, id := range ids {
		if wf, ok := s.workflows[orgID][id]; ok {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, orgID string) ([]api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Workflow, 0, len(s.workflows[orgID]))
	for _, wf := range s.workflows[orgID] {
		out = append(out, wf)
	}
	return out, nil
}

func (s *MemoryStore) UpsertWorkflow(_ context.Context, orgID string, wf api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workflows[orgID] == nil {
		s.workflows[orgID] = make(map[string]api.Workflow)
	}
	s.workflows[orgID][wf.ID] = wf
	return nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows[orgID], id)
	return nil
}

func (s *MemoryStore) GetIntegration(_ context.Context, orgID, id string) (api.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.integrations[orgID][id], nil
}

func (s *MemoryStore) GetManyIntegrations(_ context.Context, orgID string, ids []string) ([]api.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Integration, 0, len(ids))
	for _, id := range ids {
		if in, ok := s.integrations[orgID][id]; ok {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListIntegrations(_ context.Context, orgID string) ([]api.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Integration, 0, len(s.integrations[orgID]))
	for _, in := range s.integrations[orgID] {
		out = append(out, in)
	}
	return out, nil
}

func (s *MemoryStore) UpsertIntegration(_ context.Context, orgID string, integration api.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.integrations[orgID] == nil {
		s.integrations[orgID] = make(map[string]api.Integration)
	}
	s.integrations[orgID][integration.ID] = integration
	return nil
}

func (s *MemoryStore) UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error {
	return s.UpsertIntegration(ctx, orgID, integration)
}

func (s *MemoryStore) DeleteIntegration(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.integrations[orgID], id)
	return nil
}

func (s *MemoryStore) RecordRun(_ context.Context, orgID string, run api.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[orgID] = append(s.runs[orgID], run)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := append([]api.RunResult(nil), s.runs[orgID]...)
	newerFirst(runs)
	runs = filterByConfig(runs, configID)
	return paginate(runs, limit, offset), nil
}

func (s *MemoryStore) ListOrgIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for orgID, wfs := range s.workflows {
		if len(wfs) == 0 {
			continue
		}
		seen[orgID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for orgID := range seen {
		out = append(out, orgID)
	}
	return out, nil
}

func (s *MemoryStore) GetTenantInfo(_ context.Context, orgID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenantInfo[orgID], nil
}

func (s *MemoryStore) SetTenantInfo(_ context.Context, orgID string, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantInfo[orgID] = info
	return nil
}

func (s *MemoryStore) Close() error { return nil }
