// Package pgcaller executes parameterized SQL over a pooled Postgres
// connection, mirroring the HTTP caller's {status,data,headers} return
// shape so the step executor can treat both callers uniformly.
//
// Connection pool sizing follows the teacher's internal/db.Connect
// (MaxOpenConns/MaxIdleConns/ConnMaxLifetime/ConnMaxIdleTime knobs);
// gluepoint exposes them as PoolConfig rather than reading them from env
// vars directly, since the caller may serve many tenants' postgres://
// ApiConfig URLs rather than one process-wide DSN.
package pgcaller

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/cedricziel/gluepoint/pkg/httpcaller"
)

// PoolConfig mirrors the teacher's DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS/
// DB_CONN_MAX_LIFETIME/DB_CONN_MAX_IDLE_TIME knobs.
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

// Caller executes SQL against one or more postgres:// DSNs, pooling and
// reusing a *sql.DB per distinct DSN.
type Caller struct {
	cfg  PoolConfig
	pool map[string]*sql.DB
}

// New creates a Caller with the given pool sizing.
func New(cfg PoolConfig) *Caller {
	return &Caller{cfg: cfg, pool: make(map[string]*sql.DB)}
}

// Query is a resolved SQL call: dsn identifies the target database (the
// ApiConfig's urlHost+urlPath, already variable-substituted), sql is the
// parameterized statement text (also substituted), and args are bound
// positionally as $1, $2, ...
type Query struct {
	DSN     string
	SQL     string
	Args    []any
	Timeout time.Duration
}

// Do runs q and returns rows shaped into the same Response envelope the
// HTTP caller produces, so the pagination driver and step executor don't
// need to special-case the transport.
func (c *Caller) Do(ctx context.Context, q Query) (*httpcaller.Response, error) {
	db, err := c.connection(q.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}

	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	qCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(qCtx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return &httpcaller.Response{
		Status:     200,
		Data:       results,
		Headers:    map[string]string{},
		StatusText: "OK",
	}, nil
}

// connection returns a pooled *sql.DB for dsn, creating and configuring one
// on first use.
func (c *Caller) connection(dsn string) (*sql.DB, error) {
	if db, ok := c.pool[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	db.SetMaxIdleConns(c.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	c.pool[dsn] = db
	return db, nil
}

// Close releases every pooled connection. Safe to call once at process
// shutdown.
func (c *Caller) Close() error {
	var firstErr error
	for _, db := range c.pool {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsPostgresURL reports whether urlHost looks like a postgres(ql):// DSN,
// the scheme the step executor uses to route to this caller instead of the
// HTTP caller.
func IsPostgresURL(urlHost string) bool {
	lower := strings.ToLower(urlHost)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
