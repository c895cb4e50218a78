// Package journal records the outcome of every sync cycle so operators can see
// what the bot did. Listing snapshots are not stored.
package journal

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Supported drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultRetention is the number of entries kept when Config.Retention is zero.
const DefaultRetention = 1000

// Entry is one finished sync cycle.
type Entry struct {
	ID       int64     `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Outcome  string    `json:"outcome"`
	Fetched  int       `json:"fetched"`
	New      int       `json:"new"`
	Batches  int       `json:"batches"`
	Error    string    `json:"error,omitempty"`
}

// Store persists entries.
type Store interface {
	// Record appends e and trims the journal to its retention.
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Config selects and configures a store.
type Config struct {
	Driver    string
	DSN       string
	Retention int
	Logger    *slog.Logger
}

// Open builds the store named by cfg.Driver and applies its migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// maxErrorLen bounds the stored error text.
const maxErrorLen = 2000
