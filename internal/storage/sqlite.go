package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the desk's local snapshot store. It keeps the last pruned poll
// snapshot so reservations can be rebuilt after a restart. Writes come from
// the poll handler and the background sweeper, both serialized by PollState,
// so a single connection is enough.
type DB struct {
	*sql.DB
}

type Config struct {
	Path string

	// BusyTimeout bounds how long a statement waits on a file lock held by
	// another process, e.g. a backup.
	BusyTimeout time.Duration

	// OpenTimeout bounds the initial ping and migrations.
	OpenTimeout time.Duration
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot store path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", snapshotDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	defer cancel()

	s := &DB{DB: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// snapshotDSN builds the go-sqlite3 DSN. Snapshot saves replace every row in
// one transaction, so transactions take the write lock up front.
func snapshotDSN(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func (d *DB) init(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return fmt.Errorf("ping snapshot store: %w", err)
	}
	// scratch tables for the bulk deletes in SaveSnapshot stay off disk
	if _, err := d.ExecContext(ctx, "PRAGMA temp_store=MEMORY;"); err != nil {
		return fmt.Errorf("set temp_store: %w", err)
	}
	return d.Migrate(ctx)
}
