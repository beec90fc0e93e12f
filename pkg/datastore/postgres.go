package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/cedricziel/gluepoint/migrations"
	"github.com/cedricziel/gluepoint/pkg/api"
)

// PostgresStore is the production Store backend: one row per entity in
// configurations/workflows/integrations/runs/tenant_info, with the
// document itself kept as JSONB and (for integrations) credentials held
// separately as an AES-GCM-encrypted column. Pool sizing and the
// migration-apply sequence follow the teacher's internal/db.Connect /
// applyMigrations.
type PostgresStore struct {
	db     *sql.DB
	cipher *credentialCipher
}

// PoolConfig mirrors pkg/pgcaller.PoolConfig; kept distinct since this
// pool serves gluepoint's own control-plane tables, not tenant
// postgres:// ApiConfig targets.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig mirrors the teacher's defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// NewPostgresStore opens dsn, applies pool settings, pings, applies
// pending migrations, and returns a ready Store. masterKey, if non-nil,
// enables credential encryption at rest.
func NewPostgresStore(dsn string, cfg PoolConfig, masterKey []byte) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	var c *credentialCipher
	if len(masterKey) > 0 {
		c, err = newCredentialCipher(masterKey)
		if err != nil {
			return nil, err
		}
	}

	s := &PostgresStore{db: db, cipher: c}
	if err := s.applyMigrations(); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// applyMigrations delegates to migrations.Apply, the schema-apply loop
// shared with internal/testutil's test-database setup.
func (s *PostgresStore) applyMigrations() error {
	log.Printf("datastore: applying pending migrations")
	return migrations.Apply(s.db)
}

func (s *PostgresStore) GetConfig(ctx context.Context, orgID, id string) (*api.ApiConfig, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM configurations WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var cfg api.ApiConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) GetManyConfigs(ctx context.Context, orgID string, ids []string) ([]api.ApiConfig, error) {
	out := make([]api.ApiConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.GetConfig(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListConfigs(ctx context.Context, orgID string) ([]api.ApiConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM configurations WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var out []api.ApiConfig
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var cfg api.ApiConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertConfig(ctx context.Context, orgID string, cfg api.ApiConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO configurations (id, org_id, config_type, data, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (org_id, id, config_type) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		cfg.ID, orgID, "api", data)
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConfig(ctx context.Context, orgID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM configurations WHERE org_id = $1 AND id = $2`, orgID, id)
	return err
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, orgID, id string) (*api.Workflow, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflows WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	var wf api.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &wf, nil
}

func (s *PostgresStore) GetManyWorkflows(ctx context.Context, orgID string, ids []string) ([]api.Workflow, error) {
	out := make([]api.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if wf != nil {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, orgID string) ([]api.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM workflows WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []api.Workflow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var wf api.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertWorkflow(ctx context.Context, orgID string, wf api.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO workflows (id, org_id, integration_ids, data, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (org_id, id) DO UPDATE SET integration_ids = EXCLUDED.integration_ids, data = EXCLUDED.data, updated_at = now()`,
		wf.ID, orgID, pq.Array(wf.IntegrationIDs), data)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, orgID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE org_id = $1 AND id = $2`, orgID, id)
	return err
}

func (s *PostgresStore) GetIntegration(ctx context.Context, orgID, id string) (api.Integration, error) {
	var data []byte
	var creds string
	err := s.db.QueryRowContext(ctx, `SELECT data, credentials FROM integrations WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&data, &creds)
	if err == sql.ErrNoRows {
		return api.Integration{}, nil
	}
	if err != nil {
		return api.Integration{}, fmt.Errorf("get integration: %w", err)
	}
	return s.decodeIntegration(data, creds)
}

func (s *PostgresStore) GetManyIntegrations(ctx context.Context, orgID string, ids []string) ([]api.Integration, error) {
	out := make([]api.Integration, 0, len(ids))
	for _, id := range ids {
		in, err := s.GetIntegration(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if in.ID != "" {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, orgID string) ([]api.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, credentials FROM integrations WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []api.Integration
	for rows.Next() {
		var data []byte
		var creds string
		if err := rows.Scan(&data, &creds); err != nil {
			return nil, err
		}
		in, err := s.decodeIntegration(data, creds)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) decodeIntegration(data []byte, creds string) (api.Integration, error) {
	var in api.Integration
	if err := json.Unmarshal(data, &in); err != nil {
		return api.Integration{}, fmt.Errorf("unmarshal integration: %w", err)
	}
	if s.cipher != nil {
		decrypted, err := s.cipher.decryptCredentials(creds)
		if err != nil {
			return api.Integration{}, fmt.Errorf("decrypting credentials for integration %s: %w", in.ID, err)
		}
		in.Credentials = decrypted
	}
	return in, nil
}

func (s *PostgresStore) UpsertIntegration(ctx context.Context, orgID string, integration api.Integration) error {
	credsPlain := integration.Credentials
	credsColumn := ""
	stored := integration
	if s.cipher != nil {
		blob, err := s.cipher.encryptCredentials(credsPlain)
		if err != nil {
			return fmt.Errorf("encrypting credentials for integration %s: %w", integration.ID, err)
		}
		credsColumn = blob
		stored.Credentials = nil
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal integration: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO integrations (id, org_id, name, data, credentials, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (org_id, id) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, credentials = EXCLUDED.credentials, updated_at = now()`,
		integration.ID, orgID, integration.Name, data, credsColumn)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIntegration(ctx context.Context, orgID string, integration api.Integration) error {
	return s.UpsertIntegration(ctx, orgID, integration)
}

func (s *PostgresStore) DeleteIntegration(ctx context.Context, orgID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE org_id = $1 AND id = $2`, orgID, id)
	return err
}

func (s *PostgresStore) RecordRun(ctx context.Context, orgID string, run api.RunResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO runs (id, org_id, config_id, started_at, data)
        VALUES ($1, $2, $3, $4, $5)`,
		run.ID, orgID, run.Config.ID, run.StartedAt, data)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, orgID string, limit, offset int, configID string) ([]api.RunResult, error) {
	query := `SELECT data FROM runs WHERE org_id = $1`
	args := []any{orgID}
	if configID != "" {
		query += ` AND config_id = $2`
		args = append(args, configID)
	}
	query += ` ORDER BY started_at DESC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []api.RunResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var run api.RunResult
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOrgIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT org_id FROM workflows`)
	if err != nil {
		return nil, fmt.Errorf("list org ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, err
		}
		out = append(out, orgID)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTenantInfo(ctx context.Context, orgID string) (map[string]any, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tenant_info WHERE org_id = $1`, orgID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant info: %w", err)
	}
	var info map[string]any
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *PostgresStore) SetTenantInfo(ctx context.Context, orgID string, info map[string]any) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal tenant info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO tenant_info (org_id, data)
        VALUES ($1, $2)
        ON CONFLICT (org_id) DO UPDATE SET data = EXCLUDED.data`,
		orgID, data)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
