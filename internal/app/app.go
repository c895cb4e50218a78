// Package app wires the sync pipeline, the Telegram session supervisor and
// the ops server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"jobsyncbot/internal/adapter/feed"
	"jobsyncbot/internal/adapter/httpapi"
	"jobsyncbot/internal/adapter/journal"
	"jobsyncbot/internal/adapter/scheduler"
	"jobsyncbot/internal/adapter/telegram"
	"jobsyncbot/internal/adapter/telegram/handlers"
	"jobsyncbot/internal/adapter/telegram/middleware"
	"jobsyncbot/internal/config"
	"jobsyncbot/internal/messenger"
	"jobsyncbot/internal/notifier"
	"jobsyncbot/internal/platform/logger"
	"jobsyncbot/internal/supervisor"
)

// App wires application components.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	version string
}

// New creates a new App instance from loaded configuration.
func New(cfg config.Config, version string) *App {
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "jobsyncbot",
	})
	return &App{cfg: cfg, log: log, version: version}
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting", "version", a.version)

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	clocks, err := a.cfg.Clocks()
	if err != nil {
		return err
	}
	schedule, err := scheduler.NewDailySchedule(loc, clocks)
	if err != nil {
		return err
	}

	fetcher, err := a.newFetcher()
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, journal.Config{
		Driver:    a.cfg.Journal.Driver,
		DSN:       a.cfg.Journal.DSN,
		Retention: a.cfg.Journal.Retention,
		Logger:    a.log.With("component", "journal"),
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn("close journal", "error", err)
		}
	}()

	memory := scheduler.NewMemory()
	status := logger.StatusFunc(a.log)
	view := &statusView{schedule: schedule, memory: memory, journal: store}

	rate := middleware.NewRateLimiter(time.Second)
	acl := middleware.NewACL(a.cfg.Telegram.AllowedIDs)
	commands := handlers.New(view, a.version, a.log.With("component", "commands"))

	connector, err := telegram.NewConnector(telegram.ConnectorConfig{
		Token:               a.cfg.Telegram.Token,
		ServerURL:           a.cfg.Telegram.ServerURL,
		Heartbeat:           a.cfg.Telegram.Heartbeat.Duration,
		MaxMissedHeartbeats: a.cfg.Telegram.MaxMissedHeartbeats,
		Handler:             middleware.Chain(commands.Handle, rate.Middleware, acl.Middleware),
		Workers:             a.cfg.Telegram.Workers,
		Logger:              a.log.With("component", "telegram"),
	})
	if err != nil {
		return err
	}

	newRunner := func(session messenger.Session) (supervisor.Runner, error) {
		n := notifier.New(session, notifier.Config{
			ChannelID: a.cfg.Telegram.ChannelID,
			BatchSize: a.cfg.Sync.BatchSize,
			Location:  loc,
			RunTimes:  schedule.Labels(),
			OnStatus:  status,
			Logger:    a.log.With("component", "notifier"),
		})
		return scheduler.NewWithContext(ctx, scheduler.Config{
			Schedule: schedule,
			Fetcher:  fetcher,
			Parser:   feed.NewCSVParser(),
			Notifier: n,
			Memory:   memory,
			Cooldown: a.cfg.Sync.Cooldown.Duration,
			OnStatus: status,
			Hooks: scheduler.Hooks{
				OnCycleFinish: func(r scheduler.Report) { a.record(store, r) },
			},
			Logger: a.log.With("component", "scheduler"),
		})
	}

	sup, err := supervisor.New(supervisor.Config{
		Connector:  connector,
		NewRunner:  newRunner,
		BackoffMax: a.cfg.Supervisor.BackoffMax.Duration,
		ResetAfter: a.cfg.Supervisor.ResetAfter.Duration,
		Logger:     a.log.With("component", "supervisor"),
	})
	if err != nil {
		return err
	}
	view.sup = sup

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.HTTP.Addr != "" {
		srv := httpapi.New(a.cfg.HTTP.Addr, view, a.log.With("component", "http"))
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return sup.Run(gctx) })

	err = g.Wait()
	a.log.Info("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) newFetcher() (scheduler.Fetcher, error) {
	if a.cfg.Feed.File != "" {
		return feed.NewFileFetcher(a.cfg.Feed.File), nil
	}
	return feed.NewHTTPFetcher(feed.HTTPConfig{
		URL:      a.cfg.Feed.URL,
		User:     a.cfg.Feed.User,
		Password: a.cfg.Feed.Password,
		Dir:      a.cfg.Feed.Dir,
		Timeout:  a.cfg.Feed.Timeout.Duration,
		Retries:  a.cfg.Feed.Retries,
		Logger:   a.log.With("component", "feed"),
	})
}

// record runs on the scheduler goroutine; it must not block for long.
func (a *App) record(store journal.Store, r scheduler.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Record(ctx, entryFromReport(r)); err != nil {
		a.log.Warn("journal record failed", "error", err)
	}
}

func entryFromReport(r scheduler.Report) journal.Entry {
	e := journal.Entry{
		Started:  r.Started,
		Finished: r.Finished,
		Outcome:  string(r.Outcome),
		Fetched:  r.Fetched,
		New:      r.New,
		Batches:  r.Batches,
	}
	if r.Err != nil {
		e.Error = logger.Scrub(r.Err.Error())
	}
	return e
}

type pinger interface {
	Ping(ctx context.Context) error
}

// statusView answers /status in chat and the ops endpoints.
type statusView struct {
	schedule *scheduler.DailySchedule
	memory   *scheduler.Memory
	journal  journal.Store
	sup      *supervisor.Supervisor
	now      func() time.Time
}

func (v *statusView) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}

func (v *statusView) Health(ctx context.Context) httpapi.Health {
	h := httpapi.Health{State: supervisor.StateDisconnected.String(), Attempt: 1}
	if v.sup != nil {
		st := v.sup.State()
		h.State = st.String()
		h.Connected = st == supervisor.StateConnected
		h.Attempt = v.sup.Attempt()
		if err := v.sup.LastError(); err != nil {
			h.LastError = logger.Scrub(err.Error())
		}
	}
	if p, ok := v.journal.(pinger); ok {
		h.Journal = "ok"
		if err := p.Ping(ctx); err != nil {
			h.Journal = "unavailable"
		}
	}
	return h
}

func (v *statusView) Status(ctx context.Context, limit int) (httpapi.Status, error) {
	cycles, err := v.journal.Recent(ctx, limit)
	if err != nil {
		return httpapi.Status{}, err
	}
	next := v.schedule.Next(v.clock())
	return httpapi.Status{
		Health:   v.Health(ctx),
		Timezone: v.schedule.Location().String(),
		RunTimes: v.schedule.Labels(),
		NextRun:  &next,
		Known:    v.memory.Len(),
		Cycles:   cycles,
	}, nil
}

// StatusText renders the chat reply for /status.
func (v *statusView) StatusText(ctx context.Context) string {
	st, err := v.Status(ctx, 1)
	if err != nil {
		st = httpapi.Status{Health: v.Health(ctx)}
	}
	loc := v.schedule.Location()

	var b strings.Builder
	fmt.Fprintf(&b, "Connection: %s\n", st.State)
	if v.memory.Filled() {
		fmt.Fprintf(&b, "Known listings: %d\n", v.memory.Len())
	} else {
		b.WriteString("Known listings: first sync pending\n")
	}
	fmt.Fprintf(&b, "Updates: %s (%s)\n", strings.Join(v.schedule.Labels(), ", "), loc)
	fmt.Fprintf(&b, "Next run: %s\n", v.schedule.Next(v.clock()).In(loc).Format("Jan 2 3:04 PM"))
	if len(st.Cycles) > 0 {
		last := st.Cycles[0]
		fmt.Fprintf(&b, "Last cycle: %s at %s, %d new", last.Outcome, last.Finished.In(loc).Format("Jan 2 3:04 PM"), last.New)
	} else {
		b.WriteString("Last cycle: none yet")
	}
	return b.String()
}
