// PostgreSQL storage. Use: go get github.com/lib/pq and import _ "github.com/lib/pq".
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/resonata/probe/core"
)

// PostgresRegistry stores checkpoints in PostgreSQL. Payloads live in a
// BYTEA column next to their metadata.
type PostgresRegistry struct {
	db    *sql.DB
	table string
}

// NewPostgresRegistry creates a registry. table defaults to "checkpoints".
// If createTable is true, the table is created.
func NewPostgresRegistry(db *sql.DB, table string, createTable bool) (*PostgresRegistry, error) {
	if table == "" {
		table = "checkpoints"
	}
	r := &PostgresRegistry{db: db, table: table}
	if createTable {
		if err := r.createTable(context.Background()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PostgresRegistry) createTable(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + r.table + ` (
		model VARCHAR(255) NOT NULL,
		version VARCHAR(64) NOT NULL,
		epoch INTEGER DEFAULT 0,
		dataset VARCHAR(255),
		payload BYTEA,
		stage VARCHAR(32) DEFAULT 'dev',
		tags JSONB,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		PRIMARY KEY (model, version)
	)`
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+r.table+`_model_stage ON `+r.table+`(model, stage)`)
	return err
}

func (r *PostgresRegistry) Store(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Model == "" || entry.Version == "" {
		return fmt.Errorf("postgres registry: entry model and version required")
	}
	now := time.Now()
	created := entry.CreatedAt
	if created.IsZero() {
		created = now
	}
	q := `INSERT INTO ` + r.table + ` (model, version, epoch, dataset, payload, stage, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'dev', '[]', $6, $7)
		ON CONFLICT (model, version) DO UPDATE SET
			epoch = EXCLUDED.epoch, dataset = EXCLUDED.dataset, payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q,
		entry.Model, entry.Version, entry.Epoch, entry.Dataset, entry.Payload, created, now)
	return err
}

func (r *PostgresRegistry) scanEntry(row *sql.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.Model, &e.Version, &e.Epoch, &e.Dataset, &e.Payload, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, model, version string) (*Entry, error) {
	q := `SELECT model, version, epoch, dataset, payload, created_at, updated_at FROM ` + r.table + ` WHERE model = $1 AND version = $2`
	return r.scanEntry(r.db.QueryRowContext(ctx, q, model, version))
}

func (r *PostgresRegistry) GetRelease(ctx context.Context, model string) (*Entry, error) {
	q := `SELECT model, version, epoch, dataset, payload, created_at, updated_at FROM ` + r.table + ` WHERE model = $1 AND stage = 'release' LIMIT 1`
	return r.scanEntry(r.db.QueryRowContext(ctx, q, model))
}

func (r *PostgresRegistry) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT model, version, epoch, dataset, payload, tags, created_at, updated_at FROM ` + r.table + ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1
	if len(filter.Models) > 0 {
		q += ` AND model = ANY($` + fmt.Sprint(argNum) + `)`
		args = append(args, pq.Array(filter.Models))
		argNum++
	}
	if filter.Stage != "" {
		q += ` AND stage = $` + fmt.Sprint(argNum)
		args = append(args, string(filter.Stage))
		argNum++
	}
	q += ` ORDER BY model, version OFFSET $` + fmt.Sprint(argNum) + ` LIMIT $` + fmt.Sprint(argNum+1)
	args = append(args, filter.Offset, limit)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		var e Entry
		var tagsRaw []byte
		if err := rows.Scan(&e.Model, &e.Version, &e.Epoch, &e.Dataset, &e.Payload, &tagsRaw, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if len(filter.Tags) > 0 {
			var tags []string
			_ = json.Unmarshal(tagsRaw, &tags)
			if !hasAll(tags, filter.Tags) {
				continue
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) ListVersions(ctx context.Context, model string) ([]VersionInfo, error) {
	q := `SELECT model, version, stage, tags, epoch, created_at, updated_at FROM ` + r.table + ` WHERE model = $1 ORDER BY version`
	rows, err := r.db.QueryContext(ctx, q, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var infos []VersionInfo
	for rows.Next() {
		var vi VersionInfo
		var stage string
		var tags []byte
		if err := rows.Scan(&vi.Model, &vi.Version, &stage, &tags, &vi.Epoch, &vi.CreatedAt, &vi.UpdatedAt); err != nil {
			return nil, err
		}
		vi.Stage = Stage(stage)
		_ = json.Unmarshal(tags, &vi.Tags)
		infos = append(infos, vi)
	}
	return infos, rows.Err()
}

func (r *PostgresRegistry) Promote(ctx context.Context, model, version string, stage Stage) error {
	// Demote others of the same model when promoting to release
	if stage == StageRelease {
		_, _ = r.db.ExecContext(ctx, `UPDATE `+r.table+` SET stage = 'dev' WHERE model = $1 AND stage = 'release'`, model)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE `+r.table+` SET stage = $1 WHERE model = $2 AND version = $3`, string(stage), model, version)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrCheckpointNotFound
	}
	return nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, model, version string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE model = $1 AND version = $2`, model, version)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrCheckpointNotFound
	}
	return nil
}

func (r *PostgresRegistry) Tag(ctx context.Context, model, version string, tags []string) error {
	data, _ := json.Marshal(tags)
	res, err := r.db.ExecContext(ctx, `UPDATE `+r.table+` SET tags = $1 WHERE model = $2 AND version = $3`, data, model, version)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrCheckpointNotFound
	}
	return nil
}
