package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTableName = "eval_runs"

// PostgresStore implements Store using a PostgreSQL table.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store that uses the given *sql.DB (driver
// "postgres"). The table is created if it doesn't exist (id, dataset, model,
// epoch, linear_score, shot_mean, shot_std, at).
func NewPostgresStore(db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("results: migrate %s: %w", tableName, err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		id BIGSERIAL PRIMARY KEY,
		dataset TEXT NOT NULL,
		model TEXT NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 0,
		linear_score DOUBLE PRECISION NOT NULL,
		shot_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
		shot_std DOUBLE PRECISION NOT NULL DEFAULT 0,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_dataset_model ON ` + s.tableName + ` (dataset, model);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_at ON ` + s.tableName + ` (at);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (dataset, model, epoch, linear_score, shot_mean, shot_std, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Dataset, r.Model, r.Epoch, r.Score, r.ShotMean, r.ShotStd, r.At)
	if err != nil {
		return fmt.Errorf("results: insert run: %w", err)
	}
	return nil
}

// Query implements Store. Aggregation happens server-side in SQL.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	args := []interface{}{}
	where := "1=1"
	n := 1
	if q.Dataset != "" {
		args = append(args, q.Dataset)
		where += fmt.Sprintf(" AND dataset = $%d", n)
		n++
	}
	if q.Model != "" {
		args = append(args, q.Model)
		where += fmt.Sprintf(" AND model = $%d", n)
		n++
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where += fmt.Sprintf(" AND at >= $%d", n)
		n++
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where += fmt.Sprintf(" AND at <= $%d", n)
		n++
	}

	groupCol := "'all'"
	switch q.GroupBy {
	case "model":
		groupCol = "model"
	case "dataset":
		groupCol = "dataset"
	case "epoch":
		groupCol = "model || '@' || epoch::text"
	case "day":
		groupCol = "date_trunc('day', at)::date::text"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	limitPlaceholder := fmt.Sprintf("$%d", n)

	query := `SELECT ` + groupCol + ` AS key,
		COUNT(*)::bigint AS runs,
		COALESCE(AVG(linear_score), 0) AS avg_score,
		COALESCE(MAX(linear_score), 0) AS best_score,
		COALESCE(MAX(shot_mean), 0) AS best_shot_mean,
		MAX(at) AS last_at
		FROM ` + s.tableName + `
		WHERE ` + where + `
		GROUP BY key
		ORDER BY runs DESC, key ASC
		LIMIT ` + limitPlaceholder

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("results: query runs: %w", err)
	}
	defer rows.Close()
	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.Key, &a.Runs, &a.AvgScore, &a.BestScore, &a.BestShotMean, &a.LastAt); err != nil {
			return nil, fmt.Errorf("results: scan aggregate: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: iterate aggregates: %w", err)
	}
	return out, nil
}
