package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"jobsyncbot/internal/platform/sqlite"
)

// SQLiteStore keeps the journal in an embedded database file.
type SQLiteStore struct {
	db        *sql.DB
	tx        *sqlite.TxRunner
	retention int
}

// OpenSQLite migrates and opens the database file at cfg.DSN.
func OpenSQLite(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	path := cfg.DSN
	if path == "" {
		path = "data/journal.db"
	}
	// NewDB создает каталог файла, поэтому открывается до миграций
	db, err := sqlite.NewDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	if err := sqlite.ApplyMigrationsFromFS(path, migrations, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate sqlite: %w", err)
	}
	if cfg.Logger != nil {
		version, _, err := sqlite.GetMigrationVersion(path, migrations, "migrations/sqlite")
		if err != nil {
			cfg.Logger.Warn("journal schema version unknown", slog.Any("error", err))
		}
		cfg.Logger.Info("journal opened",
			slog.String("driver", DriverSQLite),
			slog.String("path", path),
			slog.Uint64("schema", uint64(version)))
	}
	return NewSQLiteStore(db, cfg.Retention), nil
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sql.DB, retention int) *SQLiteStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLiteStore{db: db, tx: sqlite.NewTxRunner(db), retention: retention}
}

// Record inserts e and drops entries beyond the retention in one transaction.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO sync_cycles (started_at, finished_at, outcome, fetched, new_listings, batches, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Started.UnixMilli(), e.Finished.UnixMilli(), e.Outcome, e.Fetched, e.New, e.Batches, truncate(e.Error, maxErrorLen),
		); err != nil {
			return fmt.Errorf("journal: insert: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM sync_cycles
			 WHERE id <= (SELECT id FROM sync_cycles ORDER BY id DESC LIMIT 1 OFFSET ?)`,
			s.retention,
		); err != nil {
			return fmt.Errorf("journal: trim: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, outcome, fetched, new_listings, batches, error
		 FROM sync_cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
		)
		if err := rows.Scan(&e.ID, &started, &finished, &e.Outcome, &e.Fetched, &e.New, &e.Batches, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Started = time.UnixMilli(started).UTC()
		e.Finished = time.UnixMilli(finished).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database file is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
