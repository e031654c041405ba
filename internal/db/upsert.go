package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk upsert into one table.
type UpsertConfig struct {
	Table        string   // optionally schema-qualified
	Columns      []string // column order of each row
	ConflictKeys []string // the unique constraint
	UpdateCols   []string // nil updates every non-key column

	// KeepNewer names a column compared on conflict: an existing row whose
	// value is greater than the incoming one is left untouched.
	KeepNewer string
}

// upsertPlan holds the SQL for one BulkUpsert call.
type upsertPlan struct {
	staging pgx.Identifier
	create  string
	merge   string
}

func planUpsert(cfg UpsertConfig) (*upsertPlan, error) {
	if len(cfg.Columns) == 0 {
		return nil, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return nil, eris.New("db: upsert: no conflict keys specified")
	}

	update := cfg.UpdateCols
	if update == nil {
		for _, c := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, c) {
				update = append(update, c)
			}
		}
	}

	target := sanitizeTable(cfg.Table)
	staging := pgx.Identifier{"_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")}
	cols := quoteAndJoin(cfg.Columns)

	sets := make([]string, len(update))
	for i, c := range update {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = q + " = EXCLUDED." + q
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, cols, cols, staging.Sanitize(), quoteAndJoin(cfg.ConflictKeys), strings.Join(sets, ", "))
	if cfg.KeepNewer != "" {
		q := pgx.Identifier{cfg.KeepNewer}.Sanitize()
		fmt.Fprintf(&b, " WHERE %s.%s <= EXCLUDED.%s", target, q, q)
	}

	return &upsertPlan{
		staging: staging,
		create:  fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging.Sanitize(), target),
		merge:   b.String(),
	}, nil
}

// BulkUpsert COPYs rows into a transaction-scoped staging table and merges
// them into the target with INSERT ... ON CONFLICT DO UPDATE. It returns the
// number of rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	plan, err := planUpsert(cfg)
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, plan.create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, plan.staging, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging table for %s", cfg.Table)
	}
	tag, err := tx.Exec(ctx, plan.merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, splitting an optional schema prefix.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
