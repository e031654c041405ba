package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	start_step INTEGER NOT NULL DEFAULT 1,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_steps (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	step       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS classification_cache (
	inchikey   TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	taxonomy   TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_classification_cache_expires_at ON classification_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, mode model.RunMode, startStep int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, start_step, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(mode), startStep, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, start_step, status, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if r.Steps, err = s.ListSteps(ctx, runID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, mode, start_step, status, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateStep(ctx context.Context, runID string, step int, name string) (*model.StepRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, step, name, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, step, name, string(model.StepStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert step for run %s", runID)
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

func (s *SQLiteStore) CompleteStep(ctx context.Context, stepID string, result *model.StepResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal step result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete step %s", stepID)
	}
	return checkRowsAffected(res, "step", stepID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]model.StepRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, name, status, result, started_at FROM run_steps
		 WHERE run_id = ? ORDER BY started_at, step`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var steps []model.StepRun
	for rows.Next() {
		var st model.StepRun
		var resultJSON sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Step, &st.Name, &st.Status, &resultJSON, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if resultJSON.Valid {
			st.Result = &model.StepResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), st.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal step result")
			}
		}
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) GetCachedClassification(ctx context.Context, inchikey string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT inchikey, status, taxonomy, cached_at, expires_at FROM classification_cache
		 WHERE inchikey = ? AND expires_at > ?`,
		inchikey, time.Now().UTC(),
	)

	var e model.CacheEntry
	var taxJSON string
	err := row.Scan(&e.InChIKey, &e.Status, &taxJSON, &e.CachedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached classification")
	}
	if err := json.Unmarshal([]byte(taxJSON), &e.Taxonomy); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached taxonomy")
	}
	return &e, nil
}

func (s *SQLiteStore) SetCachedClassification(ctx context.Context, inchikey string, status model.CacheStatus, tax classyfire.Taxonomy, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.upsertClassifications(ctx, []model.CacheEntry{{
		InChIKey:  inchikey,
		Status:    status,
		Taxonomy:  tax,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}})
	return err
}

func (s *SQLiteStore) ImportClassifications(ctx context.Context, entries []model.CacheEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	return s.upsertClassifications(ctx, entries)
}

// upsertClassifications writes entries in one transaction. An existing row
// cached later than the incoming entry is kept.
func (s *SQLiteStore) upsertClassifications(ctx context.Context, entries []model.CacheEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin cache tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classification_cache (inchikey, status, taxonomy, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(inchikey) DO UPDATE SET
		   status = excluded.status,
		   taxonomy = excluded.taxonomy,
		   cached_at = excluded.cached_at,
		   expires_at = excluded.expires_at
		 WHERE excluded.cached_at >= classification_cache.cached_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare cache upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var written int64
	for _, e := range entries {
		taxJSON, err := json.Marshal(e.Taxonomy)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal taxonomy")
		}
		res, err := stmt.ExecContext(ctx, e.InChIKey, string(e.Status), string(taxJSON), e.CachedAt.UTC(), e.ExpiresAt.UTC())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert cached classification %s", e.InChIKey)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit cache tx")
	}
	return written, nil
}

func (s *SQLiteStore) DeleteExpiredClassifications(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM classification_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired classifications")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (*model.CacheStats, error) {
	var st model.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'found' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'missing' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM classification_cache`,
		time.Now().UTC(),
	).Scan(&st.Total, &st.Found, &st.Missing, &st.Expired)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	return &st, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.Mode, &r.StartStep, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
