// Package pgstore persists step results in PostgreSQL through a pgx
// connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vk/gridflow/internal/persistence"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "gridflow_results"

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Config struct {
	DSN         string
	Table       string
	PingTimeout time.Duration
	MaxConns    int32
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return c
}

// Validate checks the configuration without connecting.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.DSN == "" {
		return errors.New("pgstore: dsn is required")
	}
	if !tableNameRe.MatchString(c.Table) {
		return fmt.Errorf("pgstore: invalid table name %q", c.Table)
	}
	if c.MaxConns < 0 {
		return errors.New("pgstore: max conns must be >= 0")
	}
	return nil
}

// Store is a PostgreSQL persistence.Backend.
type Store struct {
	pool  *pgxpool.Pool
	table string
	owned bool
}

// Open connects, verifies the connection and ensures the results table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := &Store{pool: pool, table: cfg.Table, owned: true}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of it.
func NewWithPool(pool *pgxpool.Pool, table string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("pgstore: invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureSchema creates the results table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id     TEXT        NOT NULL,
	step       TEXT        NOT NULL,
	data       BYTEA       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, step)
)`, s.ident())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

// Save upserts the result of a step.
func (s *Store) Save(ctx context.Context, runID, step string, data []byte) error {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (run_id, step, data) VALUES ($1, $2, $3)
ON CONFLICT (run_id, step) DO UPDATE SET data = EXCLUDED.data, created_at = now()`, s.ident())
	if _, err := s.pool.Exec(ctx, query, runID, step, data); err != nil {
		return fmt.Errorf("pgstore: save %s/%s: %w", runID, step, err)
	}
	return nil
}

// Load reads the result of a step.
func (s *Store) Load(ctx context.Context, runID, step string) ([]byte, error) {
	if err := persistence.ValidateKey(runID, step); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE run_id = $1 AND step = $2`, s.ident())
	var data []byte
	err := s.pool.QueryRow(ctx, query, runID, step).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: load %s/%s: %w", runID, step, err)
	}
	return data, nil
}

// Runs lists the distinct run ids, sorted.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT run_id FROM %s ORDER BY run_id`, s.ident())
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgstore: list runs: %w", err)
	}
	return runs, nil
}

// Close releases the pool if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
