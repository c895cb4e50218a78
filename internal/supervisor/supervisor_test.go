package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsyncbot/internal/adapter/scheduler"
	"jobsyncbot/internal/domain/listing"
	"jobsyncbot/internal/messenger"
	"jobsyncbot/internal/notifier"
	"jobsyncbot/internal/shared"
)

// events records the order of lifecycle calls across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeSession struct {
	name string
	ev   *events
	done chan struct{}
	err  error
	once sync.Once
}

func newFakeSession(name string, ev *events) *fakeSession {
	return &fakeSession{name: name, ev: ev, done: make(chan struct{})}
}

func (s *fakeSession) IsLive() bool { return true }

func (s *fakeSession) ResolveChannel(context.Context, string) (messenger.Channel, error) {
	return nil, nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) Err() error            { return s.err }

func (s *fakeSession) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *fakeSession) Close(context.Context) error {
	s.ev.add("close " + s.name)
	s.once.Do(func() { close(s.done) })
	return nil
}

// connectResult is one scripted Connect outcome.
type connectResult struct {
	session *fakeSession
	err     error
}

// fakeConnector blocks until ctx is done once the script is exhausted.
type fakeConnector struct {
	mu      sync.Mutex
	ev      *events
	results []connectResult
	calls   int
}

func (c *fakeConnector) Connect(ctx context.Context, obs messenger.Observers) (Session, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.mu.Unlock()

	c.ev.add("connect")
	if i >= len(c.results) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := c.results[i]
	if r.err != nil {
		return nil, r.err
	}
	obs.Connected()
	return r.session, nil
}

func (c *fakeConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeRunner struct {
	name string
	ev   *events
}

func (r *fakeRunner) Start() { r.ev.add("start " + r.name) }
func (r *fakeRunner) Stop()  { r.ev.add("stop " + r.name) }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	// cancel is called once len(delays) reaches after.
	after  int
	cancel context.CancelFunc
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()
	if r.after > 0 && n >= r.after {
		r.cancel()
		return ctx.Err()
	}
	return nil
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func runnerFactory(ev *events) RunnerFactory {
	return func(session messenger.Session) (Runner, error) {
		return &fakeRunner{name: session.(*fakeSession).name, ev: ev}, nil
	}
}

func assertDelay(t *testing.T, base, got time.Duration) {
	t.Helper()
	assert.GreaterOrEqual(t, got, base)
	assert.Less(t, got, base+750*time.Millisecond)
}

func TestSupervisor_NewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Connector: &fakeConnector{}})
	assert.Error(t, err)

	_, err = New(Config{Connector: &fakeConnector{}, NewRunner: runnerFactory(&events{}), BackoffMax: time.Second})
	assert.Error(t, err, "cap below the first delay is rejected")
}

func TestSupervisor_BackoffGrowsExponentially(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	boom := errors.New("gateway unreachable")
	conn := &fakeConnector{ev: ev, results: []connectResult{{err: boom}, {err: boom}, {err: boom}}}
	sleeper := &sleepRecorder{after: 3, cancel: cancel}

	s, err := New(Config{
		Connector:  conn,
		NewRunner:  runnerFactory(ev),
		BackoffMax: 120 * time.Second,
		Sleep:      sleeper.Sleep,
		Rand:       rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))

	delays := sleeper.Delays()
	require.Len(t, delays, 3)
	assertDelay(t, 2*time.Second, delays[0])
	assertDelay(t, 4*time.Second, delays[1])
	assertDelay(t, 8*time.Second, delays[2])

	assert.Equal(t, 3, conn.Calls())
	assert.True(t, shared.HasKind(s.LastError(), shared.KindConnection))
	assert.ErrorIs(t, s.LastError(), boom)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_BackoffIsCapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	results := make([]connectResult, 10)
	for i := range results {
		results[i] = connectResult{err: errors.New("down")}
	}
	sleeper := &sleepRecorder{after: 10, cancel: cancel}

	s, err := New(Config{
		Connector:  &fakeConnector{ev: ev, results: results},
		NewRunner:  runnerFactory(ev),
		BackoffMax: 120 * time.Second,
		Sleep:      sleeper.Sleep,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	delays := sleeper.Delays()
	require.Len(t, delays, 10)
	// 2, 4, 8, 16, 32, 64, then capped at 120
	assertDelay(t, 64*time.Second, delays[5])
	for _, d := range delays[6:] {
		assertDelay(t, 120*time.Second, d)
	}
}

func TestSupervisor_ExponentStopsAtSeven(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	results := make([]connectResult, 9)
	for i := range results {
		results[i] = connectResult{err: errors.New("down")}
	}
	sleeper := &sleepRecorder{after: 9, cancel: cancel}

	s, err := New(Config{
		Connector:  &fakeConnector{ev: ev, results: results},
		NewRunner:  runnerFactory(ev),
		BackoffMax: time.Hour,
		Sleep:      sleeper.Sleep,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	delays := sleeper.Delays()
	assertDelay(t, 128*time.Second, delays[6])
	assertDelay(t, 128*time.Second, delays[8])
}

func TestSupervisor_CancellationWhileConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	sess := newFakeSession("s1", ev)
	s, err := New(Config{
		Connector: &fakeConnector{ev: ev, results: []connectResult{{session: sess}}},
		NewRunner: runnerFactory(ev),
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, []string{"connect", "start s1", "stop s1", "close s1"}, ev.all())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_CancellationWhileConnecting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := &events{}
	conn := &fakeConnector{ev: ev}

	s, err := New(Config{Connector: conn, NewRunner: runnerFactory(ev)})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return conn.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, s.State())
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Nil(t, s.LastError())
}

func TestSupervisor_StopsSchedulerBeforeReconnecting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	s1 := newFakeSession("s1", ev)
	s2 := newFakeSession("s2", ev)
	conn := &fakeConnector{ev: ev, results: []connectResult{{session: s1}, {session: s2}}}
	sleeper := &sleepRecorder{}

	s, err := New(Config{
		Connector: conn,
		NewRunner: runnerFactory(ev),
		Sleep:     sleeper.Sleep,
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ev.all()) == 2 }, time.Second, 5*time.Millisecond)
	s1.fail(shared.Wrap(shared.ErrConnection, "heartbeat lost"))

	require.Eventually(t, func() bool { return len(ev.all()) == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{
		"connect", "start s1",
		"stop s1", "close s1",
		"connect", "start s2",
		"stop s2", "close s2",
	}, ev.all())
	assert.Equal(t, 2, s.Attempt())
	require.Len(t, sleeper.Delays(), 1)
	assertDelay(t, 2*time.Second, sleeper.Delays()[0])
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestSupervisor_AttemptResetAfterStableSession(t *testing.T) {
	tests := []struct {
		name       string
		uptime     time.Duration
		resetAfter time.Duration
		wantBase   time.Duration
	}{
		{"long session resets", 11 * time.Minute, 10 * time.Minute, 2 * time.Second},
		{"short session keeps growing", time.Minute, 10 * time.Minute, 8 * time.Second},
		{"reset disabled", 11 * time.Minute, 0, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			ev := &events{}
			sess := newFakeSession("s", ev)
			sess.fail(errors.New("gateway closed"))
			conn := &fakeConnector{ev: ev, results: []connectResult{
				{err: errors.New("down")},
				{err: errors.New("down")},
				{session: sess},
			}}
			sleeper := &sleepRecorder{after: 3, cancel: cancel}
			clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: tt.uptime}

			s, err := New(Config{
				Connector:  conn,
				NewRunner:  runnerFactory(ev),
				ResetAfter: tt.resetAfter,
				Sleep:      sleeper.Sleep,
				Now:        clock.Now,
			})
			require.NoError(t, err)
			require.NoError(t, s.Run(ctx))

			delays := sleeper.Delays()
			require.Len(t, delays, 3)
			assertDelay(t, 2*time.Second, delays[0])
			assertDelay(t, 4*time.Second, delays[1])
			assertDelay(t, tt.wantBase, delays[2])
		})
	}
}

func TestSupervisor_StateChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	var mu sync.Mutex
	var states []State
	sleeper := &sleepRecorder{after: 1, cancel: cancel}

	s, err := New(Config{
		Connector: &fakeConnector{ev: ev, results: []connectResult{{err: errors.New("down")}}},
		NewRunner: runnerFactory(ev),
		Sleep:     sleeper.Sleep,
		OnStateChange: func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateFatallyFailed, StateDisconnected}, states)
}

func TestSupervisor_RunnerFactoryFailureIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	sess := newFakeSession("s1", ev)
	sleeper := &sleepRecorder{after: 1, cancel: cancel}
	s, err := New(Config{
		Connector: &fakeConnector{ev: ev, results: []connectResult{{session: sess}}},
		NewRunner: func(messenger.Session) (Runner, error) { return nil, errors.New("bad config") },
		Sleep:     sleeper.Sleep,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []string{"connect", "close s1"}, ev.all())
	assert.EqualError(t, s.LastError(), "create scheduler: bad config")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "fatally_failed", StateFatallyFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

// ctxRunner records whether the bounded stop path was taken.
type ctxRunner struct {
	fakeRunner
	deadline bool
}

func (r *ctxRunner) StopContext(ctx context.Context) error {
	_, r.deadline = ctx.Deadline()
	r.ev.add("stopctx " + r.name)
	return nil
}

func TestSupervisor_StopsRunnerWithCloseTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	s1 := newFakeSession("s1", ev)
	conn := &fakeConnector{ev: ev, results: []connectResult{{session: s1}}}
	var runner *ctxRunner

	s, err := New(Config{
		Connector: conn,
		NewRunner: func(messenger.Session) (Runner, error) {
			runner = &ctxRunner{fakeRunner: fakeRunner{name: "s1", ev: ev}}
			return runner, nil
		},
		CloseTimeout: time.Second,
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return len(ev.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"connect", "start s1", "stopctx s1", "close s1"}, ev.all())
	assert.True(t, runner.deadline)
}

type staticFeed struct{ snap listing.Snapshot }

func (f staticFeed) Fetch(context.Context) (string, error)  { return "jobs.csv", nil }
func (f staticFeed) Parse(string) (listing.Snapshot, error) { return f.snap, nil }

// postLog collects posted trades per session.
type postLog struct {
	mu    sync.Mutex
	posts map[string][]string
	cycle map[string]int
}

func (p *postLog) notifier(name string) scheduler.Notifier {
	return postFunc(func(ls []listing.Listing) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, l := range ls {
			p.posts[name] = append(p.posts[name], l.Trade)
		}
	})
}

func (p *postLog) finished(name string) {
	p.mu.Lock()
	p.cycle[name]++
	p.mu.Unlock()
}

func (p *postLog) cycles(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycle[name]
}

type postFunc func([]listing.Listing)

func (f postFunc) Post(_ context.Context, ls []listing.Listing) (notifier.Result, error) {
	f(ls)
	return notifier.Result{Batches: 1, Listings: len(ls)}, nil
}

func TestSupervisor_ReconnectDoesNotReannounce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clocks, err := scheduler.ParseClocks([]string{"09:00"})
	require.NoError(t, err)
	sched, err := scheduler.NewDailySchedule(loc, clocks)
	require.NoError(t, err)

	ev := &events{}
	s1 := newFakeSession("s1", ev)
	s2 := newFakeSession("s2", ev)
	conn := &fakeConnector{ev: ev, results: []connectResult{{session: s1}, {session: s2}}}

	memory := scheduler.NewMemory()
	feed := staticFeed{snap: listing.Snapshot{{Trade: "Welder", Location: "Ohio"}, {Trade: "Plumber", Location: "Iowa"}}}
	log := &postLog{posts: map[string][]string{}, cycle: map[string]int{}}

	s, err := New(Config{
		Connector: conn,
		NewRunner: func(session messenger.Session) (Runner, error) {
			name := session.(*fakeSession).name
			return scheduler.NewWithContext(ctx, scheduler.Config{
				Schedule: sched,
				Fetcher:  feed,
				Parser:   feed,
				Notifier: log.notifier(name),
				Memory:   memory,
				Hooks: scheduler.Hooks{
					OnCycleFinish: func(scheduler.Report) { log.finished(name) },
				},
				// only the immediate first cycle runs; later waits never fire
				After: func(time.Duration) <-chan time.Time { return nil },
			})
		},
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return log.cycles("s1") == 1 }, time.Second, 5*time.Millisecond)
	s1.fail(shared.Wrap(shared.ErrConnection, "heartbeat lost"))
	require.Eventually(t, func() bool { return log.cycles("s2") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"Welder", "Plumber"}, log.posts["s1"])
	assert.Empty(t, log.posts["s2"])
}
