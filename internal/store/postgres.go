package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ncku-metabolomics/classyfire-cli/internal/db"
	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	mode       TEXT NOT NULL,
	start_step INTEGER NOT NULL DEFAULT 1,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_steps (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	step       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS classification_cache (
	inchikey   TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	taxonomy   JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_classification_cache_expires_at ON classification_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, mode model.RunMode, startStep int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, mode, start_step, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(mode), startStep, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Mode:      mode,
		StartStep: startStep,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, mode, start_step, status, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Mode, &r.StartStep, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if r.Steps, err = s.ListSteps(ctx, runID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, mode, start_step, status, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Mode, &r.StartStep, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateStep(ctx context.Context, runID string, step int, name string) (*model.StepRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, step, name, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, runID, step, name, string(model.StepStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert step for run %s", runID)
	}

	return &model.StepRun{
		ID:        id,
		RunID:     runID,
		Step:      step,
		Name:      name,
		Status:    model.StepStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, stepID string, result *model.StepResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal step result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete step %s", stepID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "step %s", stepID)
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]model.StepRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, step, name, status, result, started_at FROM run_steps WHERE run_id = $1 ORDER BY started_at, step`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	var steps []model.StepRun
	for rows.Next() {
		var st model.StepRun
		var resultJSON []byte
		if err := rows.Scan(&st.ID, &st.RunID, &st.Step, &st.Name, &st.Status, &resultJSON, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		if len(resultJSON) > 0 {
			st.Result = &model.StepResult{}
			if err := json.Unmarshal(resultJSON, st.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal step result")
			}
		}
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) GetCachedClassification(ctx context.Context, inchikey string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var taxJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT inchikey, status, taxonomy, cached_at, expires_at FROM classification_cache WHERE inchikey = $1 AND expires_at > now()`,
		inchikey,
	).Scan(&e.InChIKey, &e.Status, &taxJSON, &e.CachedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached classification")
	}
	if err := json.Unmarshal(taxJSON, &e.Taxonomy); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached taxonomy")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedClassification(ctx context.Context, inchikey string, status model.CacheStatus, tax classyfire.Taxonomy, ttl time.Duration) error {
	taxJSON, err := json.Marshal(tax)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal taxonomy")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO classification_cache (inchikey, status, taxonomy, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (inchikey) DO UPDATE SET
		   status = EXCLUDED.status,
		   taxonomy = EXCLUDED.taxonomy,
		   cached_at = EXCLUDED.cached_at,
		   expires_at = EXCLUDED.expires_at`,
		inchikey, string(status), taxJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached classification")
}

func (s *PostgresStore) ImportClassifications(ctx context.Context, entries []model.CacheEntry) (int64, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		taxJSON, err := json.Marshal(e.Taxonomy)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal taxonomy")
		}
		rows = append(rows, []any{e.InChIKey, string(e.Status), taxJSON, e.CachedAt.UTC(), e.ExpiresAt.UTC()})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "classification_cache",
		Columns:      []string{"inchikey", "status", "taxonomy", "cached_at", "expires_at"},
		ConflictKeys: []string{"inchikey"},
		KeepNewer:    "cached_at",
	}, rows)
	return n, eris.Wrap(err, "postgres: import classifications")
}

func (s *PostgresStore) DeleteExpiredClassifications(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM classification_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired classifications")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CacheStats(ctx context.Context) (*model.CacheStats, error) {
	var st model.CacheStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'found'),
		        COUNT(*) FILTER (WHERE status = 'missing'),
		        COUNT(*) FILTER (WHERE expires_at <= now())
		 FROM classification_cache`,
	).Scan(&st.Total, &st.Found, &st.Missing, &st.Expired)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	return &st, nil
}
