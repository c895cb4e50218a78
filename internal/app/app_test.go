package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsyncbot/internal/adapter/journal"
	"jobsyncbot/internal/adapter/scheduler"
	"jobsyncbot/internal/domain/listing"
)

type fakeJournal struct {
	journal.Nop
	entries []journal.Entry
	err     error
	pingErr error
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

func (f *fakeJournal) Ping(context.Context) error { return f.pingErr }

func newView(t *testing.T, j journal.Store) *statusView {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clocks, err := scheduler.ParseClocks([]string{"09:00", "12:00", "18:30"})
	require.NoError(t, err)
	sched, err := scheduler.NewDailySchedule(loc, clocks)
	require.NoError(t, err)

	mem := scheduler.NewMemory()
	mem.Replace(listing.Snapshot{{Location: "Ohio", Trade: "Electrician"}, {Location: "Iowa", Trade: "Plumber"}})

	return &statusView{
		schedule: sched,
		memory:   mem,
		journal:  j,
		now:      func() time.Time { return time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC) }, // 10:00 EST
	}
}

func TestEntryFromReport(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	e := entryFromReport(scheduler.Report{
		Started:  start,
		Finished: start.Add(2 * time.Second),
		Outcome:  scheduler.OutcomeNotifyFailed,
		Fetched:  40,
		New:      3,
		Err:      errors.New("send failed: bot123456:abcdefghijklmnopqrstuvwxyzABCDEFGHIJ/sendMessage"),
	})
	assert.Equal(t, "notify_failed", e.Outcome)
	assert.Equal(t, 40, e.Fetched)
	assert.Equal(t, 3, e.New)
	assert.NotContains(t, e.Error, "abcdefghij")
	assert.True(t, strings.HasPrefix(e.Error, "send failed"))

	ok := entryFromReport(scheduler.Report{Outcome: scheduler.OutcomeNoNew})
	assert.Empty(t, ok.Error)
}

func TestStatusView_WithoutSupervisor(t *testing.T) {
	v := newView(t, &fakeJournal{pingErr: errors.New("closed")})

	h := v.Health(context.Background())
	assert.Equal(t, "disconnected", h.State)
	assert.False(t, h.Connected)
	assert.Equal(t, "unavailable", h.Journal)
}

func TestStatusView_Status(t *testing.T) {
	finished := time.Date(2024, 3, 5, 14, 0, 3, 0, time.UTC)
	j := &fakeJournal{entries: []journal.Entry{
		{ID: 2, Outcome: "posted", New: 3, Finished: finished},
		{ID: 1, Outcome: "no_new"},
	}}
	v := newView(t, j)

	st, err := v.Status(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", st.Timezone)
	assert.Equal(t, []string{"9:00 AM", "12:00 PM", "6:30 PM"}, st.RunTimes)
	assert.Equal(t, 2, st.Known)
	assert.Len(t, st.Cycles, 2)
	assert.Equal(t, "ok", st.Journal)
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.Equal(time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)))

	text := v.StatusText(context.Background())
	assert.Contains(t, text, "Known listings: 2")
	assert.Contains(t, text, "Next run: Mar 5 12:00 PM")
	assert.Contains(t, text, "Last cycle: posted at Mar 5 9:00 AM, 3 new")
}

func TestStatusView_JournalError(t *testing.T) {
	v := newView(t, &fakeJournal{err: errors.New("database is locked")})

	_, err := v.Status(context.Background(), 5)
	assert.Error(t, err)

	text := v.StatusText(context.Background())
	assert.Contains(t, text, "Last cycle: none yet")

	v.memory = scheduler.NewMemory()
	assert.Contains(t, v.StatusText(context.Background()), "Known listings: first sync pending")
}
