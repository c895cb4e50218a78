package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"m/1_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"m/1_items.down.sql": {Data: []byte("DROP TABLE items;")},
	}
}

func TestNewDB_CreatesDirectoryAndAppliesPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	db, err := NewDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestBuildDSN(t *testing.T) {
	opts := DefaultDBOptions()
	assert.Equal(t, "a.db?_busy_timeout=5000", buildDSN("a.db", opts))

	opts.AccessMode = AccessModeReadOnly
	opts.BusyTimeout = 0
	assert.Equal(t, "a.db?mode=ro", buildDSN("a.db", opts))
}

func TestBuildMigrateURL(t *testing.T) {
	u, err := BuildMigrateURL("relative/journal.db")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "sqlite:///"))
	assert.True(t, strings.HasSuffix(u, "/relative/journal.db"))
}

func TestApplyMigrationsFromFS(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	fsys := testMigrations()

	v, dirty, err := GetMigrationVersion(path, fsys, "m")
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	require.NoError(t, ApplyMigrationsFromFS(path, fsys, "m"))
	require.NoError(t, ApplyMigrationsFromFS(path, fsys, "m"), "second run is a no-op")

	v, _, err = GetMigrationVersion(path, fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	db, err := NewDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, "INSERT INTO items (name) VALUES (?)", "x")
	assert.NoError(t, err)
}

func TestApplyMigrationsFromFS_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sub", "journal.db")

	require.NoError(t, ApplyMigrationsFromFS(path, testMigrations(), "m"))
	v, _, err := GetMigrationVersion(path, testMigrations(), "m")
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestTxRunner(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	runner := NewTxRunner(db)
	require.NoError(t, runner.WithinTx(ctx, func(ctx context.Context) error {
		_, ok := SqlTx(ctx)
		assert.True(t, ok)
		_, err := runner.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('kept')")
		return err
	}))

	boom := errors.New("boom")
	err = runner.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := runner.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('dropped')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n))
	assert.Equal(t, 1, n)

	err = runner.WithinTx(ctx, func(ctx context.Context) error {
		return runner.WithinTx(ctx, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTx)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsBusy(errors.New("database table is locked")))
	assert.False(t, IsBusy(errors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
