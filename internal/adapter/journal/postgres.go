package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobsyncbot/internal/platform/pg"
	"jobsyncbot/pkg/retry"
)

// PostgresStore keeps the journal in a PostgreSQL table.
type PostgresStore struct {
	db        pg.DB
	tx        *pg.TxRunner
	retention int
	closeFn   func()
}

// OpenPostgres waits for the server, applies migrations and opens a pool.
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if err := pg.ValidateDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	dsn, err := pg.WithApplicationName(cfg.DSN, "jobsyncbot")
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = 5
	rc.InitialDelay = time.Second
	rc.MaxDelay = 15 * time.Second
	if cfg.Logger != nil {
		log := cfg.Logger
		rc.OnRetry = func(attempt int, err error, next time.Duration) {
			log.Warn("journal: postgres not ready", slog.Int("attempt", attempt), slog.Duration("next", next), slog.Any("error", err))
		}
	}

	pool, err := pg.OpenWithRetry(ctx, dsn, pg.DefaultPoolOptions(), rc)
	if err != nil {
		return nil, fmt.Errorf("journal: open postgres: %w", err)
	}
	info, err := pg.ApplyMigrationsFromFS(dsn, migrations, "migrations/postgres")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: migrate postgres: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("journal opened",
			slog.String("driver", DriverPostgres),
			slog.String("dsn", pg.RedactDSN(dsn)),
			slog.Bool("migrated", info.Applied),
			slog.Uint64("schema_version", uint64(info.FinalVersion)),
		)
	}
	return NewPostgresStore(pool, cfg.Retention, pool.Close), nil
}

// NewPostgresStore wraps db. closeFn may be nil.
func NewPostgresStore(db pg.DB, retention int, closeFn func()) *PostgresStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PostgresStore{db: db, tx: pg.NewTxRunner(db), retention: retention, closeFn: closeFn}
}

// Record inserts e and drops entries beyond the retention in one transaction.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		if _, err := q.Exec(ctx,
			`INSERT INTO sync_cycles (started_at, finished_at, outcome, fetched, new_listings, batches, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.Started, e.Finished, e.Outcome, e.Fetched, e.New, e.Batches, truncate(e.Error, maxErrorLen),
		); err != nil {
			return fmt.Errorf("journal: insert: %w", err)
		}
		if _, err := q.Exec(ctx,
			`DELETE FROM sync_cycles
			 WHERE id <= (SELECT id FROM sync_cycles ORDER BY id DESC LIMIT 1 OFFSET $1)`,
			s.retention,
		); err != nil {
			return fmt.Errorf("journal: trim: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, started_at, finished_at, outcome, fetched, new_listings, batches, error
		 FROM sync_cycles ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Started, &e.Finished, &e.Outcome, &e.Fetched, &e.New, &e.Batches, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return pg.HealthCheck(ctx, s.db, 5*time.Second)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
