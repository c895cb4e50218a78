package journal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

func entry(i int, outcome string) Entry {
	return Entry{
		Started:  t0.Add(time.Duration(i) * time.Hour),
		Finished: t0.Add(time.Duration(i)*time.Hour + 3*time.Second),
		Outcome:  outcome,
		Fetched:  40 + i,
		New:      i,
		Batches:  (i + 24) / 25,
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)
	require.NoError(t, s.Record(ctx, entry(1, "posted")))
	got, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Open(ctx, Config{Driver: "mongo"})
	assert.Error(t, err)

	s, err = Open(ctx, Config{Driver: "SQLite", DSN: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
}

func TestSQLiteStore_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := OpenSQLite(ctx, Config{DSN: path, Retention: 10})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(ctx, entry(0, "no_new")))
	failed := entry(1, "fetch_failed")
	failed.Error = "fetch failed: " + strings.Repeat("x", 3000)
	require.NoError(t, s.Record(ctx, failed))
	require.NoError(t, s.Record(ctx, entry(2, "posted")))

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "posted", got[0].Outcome)
	assert.Equal(t, "fetch_failed", got[1].Outcome)
	assert.True(t, got[0].ID > got[1].ID)
	assert.True(t, got[0].Started.Equal(t0.Add(2*time.Hour)))
	assert.True(t, got[0].Finished.Equal(t0.Add(2*time.Hour+3*time.Second)))
	assert.Equal(t, 42, got[0].Fetched)
	assert.Equal(t, 2, got[0].New)
	assert.Equal(t, 1, got[0].Batches)
	assert.Len(t, []rune(got[1].Error), maxErrorLen)

	require.NoError(t, s.Ping(ctx))

	none, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpen_SQLiteCreatesMissingDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "journal.db")

	s, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(ctx, entry(0, "posted")))
	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_Retention(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, Config{DSN: filepath.Join(t.TempDir(), "journal.db"), Retention: 3})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.Record(ctx, entry(i, "no_new")))
	}
	got, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 46, got[0].Fetched)
	assert.Equal(t, 44, got[2].Fetched)
}

func TestSQLiteStore_ReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := OpenSQLite(ctx, Config{DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, entry(0, "posted")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, Config{DSN: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPostgresStore_Record(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	e := entry(1, "posted")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sync_cycles`).
		WithArgs(e.Started, e.Finished, "posted", 41, 1, 1, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM sync_cycles`).
		WithArgs(50).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	s := NewPostgresStore(mock, 50, nil)
	require.NoError(t, s.Record(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRollsBackOnTrimError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sync_cycles`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM sync_cycles`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	s := NewPostgresStore(mock, 0, nil)
	err = s.Record(context.Background(), entry(1, "posted"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal: trim")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Recent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "started_at", "finished_at", "outcome", "fetched", "new_listings", "batches", "error"}).
		AddRow(int64(9), t0.Add(time.Hour), t0.Add(time.Hour+time.Second), "notify_failed", 40, 3, 0, "send failed").
		AddRow(int64(8), t0, t0.Add(time.Second), "no_new", 40, 0, 0, "")
	mock.ExpectQuery(`SELECT id, started_at, finished_at, outcome, fetched, new_listings, batches, error\s+FROM sync_cycles ORDER BY id DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(rows)

	s := NewPostgresStore(mock, 0, nil)
	got, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(9), got[0].ID)
	assert.Equal(t, "send failed", got[0].Error)
	assert.Equal(t, "no_new", got[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PingAndClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	closed := false
	s := NewPostgresStore(mock, 0, func() { closed = true })
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgres_RejectsBadDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), Config{DSN: "sqlite://file.db"})
	assert.Error(t, err)
}
