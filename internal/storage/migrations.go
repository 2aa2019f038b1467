package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const latestVersion = 2

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS poll_states (
  direction TEXT NOT NULL CHECK (direction IN ('sent', 'received')),
  offer_id TEXT NOT NULL,
  state INTEGER NOT NULL,
  PRIMARY KEY (direction, offer_id)
);

CREATE TABLE IF NOT EXISTS poll_timestamps (
  offer_id TEXT PRIMARY KEY,
  ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS poll_offer_data (
  offer_id TEXT PRIMARY KEY,
  data TEXT NOT NULL
);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	case 2:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS poll_meta (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  saved_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_timestamps_ts ON poll_timestamps(ts);
`); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`, version); err != nil {
		return err
	}
	return tx.Commit()
}
