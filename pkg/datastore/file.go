package datastore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/cedricziel/gluepoint/pkg/api"
)

// fileDocument is the shape of <STORAGE_DIR>/superglue_data.json, matching
// spec.md §6's on-disk layout.
type fileDocument struct {
	APIs         map[string]map[string]api.ApiConfig   `json:"apis"`
	Workflows    map[string]map[string]api.Workflow    `json:"workflows"`
	Integrations map[string]map[string]api.Integration `json:"integrations"`
	TenantInfo   map[string]map[string]any             `json:"tenant_info"`
}

func newFileDocument() *fileDocument {
	return &fileDocument{
		APIs:         map[string]map[string]api.ApiConfig{},
		Workflows:    map[string]map[string]api.Workflow{},
		Integrations: map[string]map[string]api.Integration{},
		TenantInfo:   map[string]map[string]any{},
	}
}

// FileStore persists configurations/workflows/integrations/tenant_info as
// one indexed JSON document and runs as an append-only JSONL log, per
// spec.md §4.8/§6.
type FileStore struct {
	mu        sync.Mutex
	dataPath  string
	logPath   string
	doc       *fileDocument
	cipher    *credentialCipher
}

// NewFileStore opens (or creates) <storageDir>/superglue_data.json and
// <storageDir>/superglue_logs.jsonl. masterKey, if non-nil, enables
// credential encryption at rest.
func NewFileStore(storageDir string, masterKey []byte) (*FileStore, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}

	var c *credentialCipher
	if len(masterKey) > 0 {
		var err error
		c, err = newCredentialCipher(masterKey)
		if err != nil {
			return nil, err
		}
	}

	s := &FileStore{
		dataPath: filepath.Join(storageDir, "superglue_data.json"),
		logPath:  filepath.Join(storageDir, "superglue_logs.jsonl"),
		doc:      newFileDocument(),
		cipher:   c,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading data file: %w", err)
	}
	doc := newFileDocument()
	if err := json.Unmarshal(b, doc); err != nil {
		return fmt.Errorf("parsing data file: %w", err)
	}
	s.doc = doc
	return nil
}

// persist must be called with s.mu held.
func (s *FileStore) persist() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling data file: %w", err)
	}
	tmp := s.dataPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing data file: %w", err)
	}
	return os.Rename(tmp, s.dataPath)
}

func (s *FileStore) GetConfig(_ context.Context, orgID, id string) (*api.ApiConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.doc.APIs[orgID][id]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *FileStore) GetManyConfigs(_ context.Context, orgID string, ids []string) ([]api.ApiConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.ApiConfig, 0, len(ids))
	for _, id := range ids {
		if cfg, ok := s.doc.APIs[orgID][id]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *FileStore) ListConfigs(_ context.Context, orgID string) ([]api.ApiConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.ApiConfig, 0, len(s.doc.APIs[orgID]))
	for _, cfg := range s.doc.APIs[orgID] {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *FileStore) UpsertConfig(_ context.Context, orgID string, cfg api.ApiConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.APIs[orgID] == nil {
		s.doc.APIs[orgID] = map[string]api.ApiConfig{}
	}
	s.doc.APIs[orgID][cfg.ID] = cfg
	return s.persist()
}

func (s *FileStore) DeleteConfig(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.APIs[orgID], id)
	return s.persist()
}

func (s *FileStore) GetWorkflow(_ context.Context, orgID, id string) (*api.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.doc.Workflows[orgID][id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (s *FileStore) GetManyWorkflows(_ context.Context, orgID string, ids []string) ([]api.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Workflow, 0, len(ids))
	for _, id := range ids {
		if wf, ok := s.doc.Workflows[orgID][id]; ok {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *FileStore) ListWorkflows(_ context.Context, orgID string) ([]api.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Workflow, 0, len(s.doc.Workflows[orgID]))
	for _, wf := range s.doc.Workflows[orgID] {
		out = append(out, wf)
	}
	return out, nil
}

func (s *FileStore) UpsertWorkflow(_ context.Context, orgID string, wf api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Workflows[orgID] == nil {
		s.doc.Workflows[orgID] = map[string]api.Workflow{}
	}
	s.doc.Workflows[orgID][wf.ID] = wf
	return s.persist()
}

func (s *FileStore) DeleteWorkflow(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Workflows[orgID], id)
	return s.persist()
}

func (s *FileStore) GetIntegration(_ context.Context, orgID, id string) (api.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decryptIntegration(s.doc.Integrations[orgID][id])
}

func (s *FileStore) GetManyIntegrations(_ context.Context, orgID string, ids []string) ([]api.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Integration, 0, len(ids))
	for _, id := range ids {
		if in, ok := s.doc.Integrations[orgID][id]; ok {
			decrypted, err := s.decryptIntegration(in)
			if err != nil {
				return nil, err
			}
			out = append(out, decrypted)
		}
	}
	return out, nil
}

func (s *FileStore) ListIntegrations(_ context.Context, orgID string) ([]api.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Integration, 0, len(s.doc.Integrations[orgID]))
	for _, in := range s.doc.Integrations[orgID] {
		decrypted, err := s.decryptIntegration(in)
		if err != nil {
			return nil, err
		}
		out = append(out, decrypted)
	}
	return out, nil
}

func (s *FileStore) UpsertIntegration(_ context.Context, orgID string, integration api.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.encryptIntegration(integration)
	if err != nil {
		return err
	}
	if s.doc.Integrations[orgID] == nil {
		s.doc.Integrations[orgID] = map[string]api.Integration{}
	}
	s.doc.Integrations[orgID][integration.ID] = stored
	return s.persist()
}

func (s *FileStore) UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error {
	return s.UpsertIntegration(ctx, orgID, integration)
}

func (s *FileStore) DeleteIntegration(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Integrations[orgID], id)
	return s.persist()
}

// encryptIntegration returns a copy of integration whose Credentials map
// has been replaced with a single encrypted blob under the key
// "_encrypted", when a cipher is configured.
func (s *FileStore) encryptIntegration(integration api.Integration) (api.Integration, error) {
	if s.cipher == nil {
		return integration, nil
	}
	blob, err := s.cipher.encryptCredentials(integration.Credentials)
	if err != nil {
		return api.Integration{}, fmt.Errorf("encrypting credentials for integration %s: %w", integration.ID, err)
	}
	out := integration
	out.Credentials = map[string]any{"_encrypted": blob}
	return out, nil
}

func (s *FileStore) decryptIntegration(integration api.Integration) (api.Integration, error) {
	if s.cipher == nil {
		return integration, nil
	}
	blob, ok := integration.Credentials["_encrypted"].(string)
	if !ok {
		return integration, nil
	}
	creds, err := s.cipher.decryptCredentials(blob)
	if err != nil {
		return api.Integration{}, fmt.Errorf("decrypting credentials for integration %s: %w", integration.ID, err)
	}
	out := integration
	out.Credentials = creds
	return out, nil
}

// RecordRun appends run as one JSON line to the run log, per spec.md §6's
// on-disk layout.
func (s *FileStore) RecordRun(_ context.Context, orgID string, run api.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	entry := runLogEntry{OrgID: orgID, Run: run}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling run log entry: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("writing run log entry: %w", err)
	}
	return nil
}

type runLogEntry struct {
	OrgID string        `json:"orgId"`
	Run   api.RunResult `json:"run"`
}

// ListRuns reads the JSONL run log, tolerating corrupted lines by
// filtering entries with missing id, startedAt, or config.id and logging a
// warning, per spec.md §4.8.
func (s *FileStore) ListRuns(_ context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return []api.RunResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	var runs []api.RunResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var entry runLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Printf("datastore: skipping corrupted run log line %d: %v", lineNo, err)
			continue
		}
		if entry.Run.ID == "" || entry.Run.StartedAt.IsZero() || entry.Run.Config.ID == "" {
			log.Printf("datastore: skipping run log line %d: missing id/startedAt/config.id", lineNo)
			continue
		}
		if entry.OrgID != orgID {
			continue
		}
		runs = append(runs, entry.Run)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}

	newerFirst(runs)
	runs = filterByConfig(runs, configID)
	return paginate(runs, limit, offset), nil
}

func (s *FileStore) ListOrgIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for orgID, wfs := range s.doc.Workflows {
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

func (s *FileStore) GetTenantInfo(_ context.Context, orgID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.TenantInfo[orgID], nil
}

func (s *FileStore) SetTenantInfo(_ context.Context, orgID string, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.TenantInfo == nil {
		s.doc.TenantInfo = map[string]map[string]any{}
	}
	s.doc.TenantInfo[orgID] = info
	return s.persist()
}

func (s *FileStore) Close() error { return nil }
