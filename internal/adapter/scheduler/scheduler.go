package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobsyncbot/internal/domain/listing"
	"jobsyncbot/internal/notifier"
	"jobsyncbot/internal/shared"
)

const statusPrefix = "[JobSync] "

// DefaultCooldown - пауза между циклами по умолчанию.
const DefaultCooldown = 10 * time.Second

// Fetcher загружает источник вакансий и возвращает путь к нему.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Parser превращает загруженный источник в снимок.
type Parser interface {
	Parse(path string) (listing.Snapshot, error)
}

// Notifier публикует новые вакансии.
type Notifier interface {
	Post(ctx context.Context, listings []listing.Listing) (notifier.Result, error)
}

// Outcome - итог одного цикла.
type Outcome string

const (
	OutcomeNoNew        Outcome = "no_new"
	OutcomePosted       Outcome = "posted"
	OutcomeFetchFailed  Outcome = "fetch_failed"
	OutcomeParseFailed  Outcome = "parse_failed"
	OutcomeNotifyFailed Outcome = "notify_failed"
	OutcomePanicked     Outcome = "panicked"
)

// Report описывает завершенный цикл.
type Report struct {
	Started  time.Time
	Finished time.Time
	Outcome  Outcome
	Fetched  int
	New      int
	Batches  int
	Err      error
}

// Hooks содержит необязательные хуки для наблюдаемости.
type Hooks struct {
	OnCycleStart  func(started time.Time)
	OnCycleFinish func(report Report)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Schedule *DailySchedule
	Fetcher  Fetcher
	Parser   Parser
	Notifier Notifier
	// Memory хранит предыдущий снимок; если не задана, создается своя.
	Memory *Memory
	// Cooldown - пауза после каждого цикла (по умолчанию DefaultCooldown).
	Cooldown time.Duration
	// OnStatus получает сообщения о ходе работы с префиксом "[JobSync] ".
	OnStatus func(string)
	Hooks    Hooks
	Logger   *slog.Logger
	// Now и After подменяются в тестах.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Scheduler выполняет цикл синхронизации: ожидание → загрузка → разбор → сравнение → публикация.
type Scheduler struct {
	cfg    Config
	parent context.Context
	logger *slog.Logger

	mu     sync.Mutex // защищает переходы Start/Stop
	cancel context.CancelFunc
	done   chan struct{}

	// изменяется только горутиной цикла
	hasRunOnce bool

	loops  atomic.Int64
	cycles atomic.Int64
}

// New создает планировщик с background контекстом.
func New(cfg Config) (*Scheduler, error) {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает планировщик; отмена parentCtx останавливает цикл.
func NewWithContext(parentCtx context.Context, cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Schedule == nil:
		return nil, errors.New("scheduler: schedule is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("scheduler: fetcher is required")
	case cfg.Parser == nil:
		return nil, errors.New("scheduler: parser is required")
	case cfg.Notifier == nil:
		return nil, errors.New("scheduler: notifier is required")
	}

	if cfg.Memory == nil {
		cfg.Memory = NewMemory()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:    cfg,
		parent: parentCtx,
		logger: logger,
	}, nil
}

// Start запускает цикл в отдельной горутине. Повторный вызов при работающем цикле ничего не делает.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.loops.Add(1)

	s.logger.Info("starting sync scheduler", "times", s.cfg.Schedule.Labels(), "zone", s.cfg.Schedule.Location().String())
	go s.run(ctx, s.done)
}

// Stop отменяет цикл и ждет его завершения. Без запущенного цикла ничего не делает.
// Нельзя вызывать синхронно из OnStatus или хуков: это приведет к взаимной блокировке.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.reset()
	s.logger.Info("sync scheduler stopped")
}

// StopContext останавливает планировщик с учетом дедлайна ctx.
// Если дедлайн истек, цикл все равно будет остановлен, а вернется ошибка ctx.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("sync scheduler stop deadline exceeded, waiting for the cycle to finish")
		<-s.done
		err = ctx.Err()
	}
	s.reset()
	return err
}

func (s *Scheduler) reset() {
	s.cancel = nil
	s.done = nil
	s.hasRunOnce = false
}

// IsRunning возвращает true, если цикл запущен и еще не завершился.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Loops возвращает количество запусков цикла за время жизни планировщика.
func (s *Scheduler) Loops() int64 {
	return s.loops.Load()
}

// Cycles возвращает количество выполненных циклов.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// NextRun возвращает ближайший плановый запуск относительно текущего времени.
func (s *Scheduler) NextRun() time.Time {
	return s.cfg.Schedule.Next(s.cfg.Now())
}

// run повторяет цикл до отмены ctx.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := s.waitNext(ctx); err != nil {
			return
		}
		s.cycle(ctx)
		if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
			return
		}
	}
}

// waitNext ждет следующего планового запуска. Первый запуск после Start - немедленный.
func (s *Scheduler) waitNext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.hasRunOnce {
		s.hasRunOnce = true
		s.updateStatus("First run after start, syncing now.")
		return nil
	}

	// пересчитывается каждый цикл: смена суток и перевод часов
	now := s.cfg.Now()
	next := s.cfg.Schedule.Next(now)
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	s.updateStatus(fmt.Sprintf("Next sync at %s (in %s).",
		next.In(s.cfg.Schedule.Location()).Format("Mon Jan 2 15:04 MST"), wait.Round(time.Second)))
	return s.sleep(ctx, wait)
}

// cycle выполняет один проход. Ошибки поглощаются и сообщаются через updateStatus.
func (s *Scheduler) cycle(ctx context.Context) {
	rep := Report{Started: s.cfg.Now()}
	s.cycles.Add(1)
	s.callHook(func() {
		if s.cfg.Hooks.OnCycleStart != nil {
			s.cfg.Hooks.OnCycleStart(rep.Started)
		}
	})

	// прерванный остановкой цикл не является сбоем и не попадает в отчет
	interrupted := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync cycle panicked", "panic", r)
			rep.Outcome = OutcomePanicked
			rep.Err = fmt.Errorf("panic: %v", r)
			s.updateStatus(fmt.Sprintf("Sync cycle crashed: %v", r))
		}
		if interrupted {
			s.logger.Debug("sync cycle interrupted by stop", "outcome_before_stop", rep.Outcome)
			return
		}
		rep.Finished = s.cfg.Now()
		s.callHook(func() {
			if s.cfg.Hooks.OnCycleFinish != nil {
				s.cfg.Hooks.OnCycleFinish(rep)
			}
		})
	}()

	s.updateStatus("Fetching job listings...")
	path, err := s.cfg.Fetcher.Fetch(ctx)
	if err != nil && canceled(ctx, err) {
		interrupted = true
		return
	}
	if err != nil {
		rep.Outcome = OutcomeFetchFailed
		rep.Err = shared.MarkKind(err, shared.KindFetch)
		s.updateStatus(fmt.Sprintf("Fetch failed, keeping previous snapshot: %v", err))
		return
	}

	current, err := s.cfg.Parser.Parse(path)
	if ctx.Err() != nil {
		interrupted = true
		return
	}
	if err != nil {
		rep.Outcome = OutcomeParseFailed
		rep.Err = shared.MarkKind(err, shared.KindParse)
		s.updateStatus(fmt.Sprintf("Parse failed, keeping previous snapshot: %v", err))
		return
	}
	rep.Fetched = len(current)

	fresh := listing.NewListings(s.cfg.Memory.Previous(), current)
	rep.New = len(fresh)

	if len(fresh) == 0 {
		rep.Outcome = OutcomeNoNew
		s.updateStatus(fmt.Sprintf("No new jobs (%d listed).", len(current)))
	} else {
		s.updateStatus(fmt.Sprintf("Found %d new job(s), posting.", len(fresh)))
		res, err := s.cfg.Notifier.Post(ctx, fresh)
		rep.Batches = res.Batches
		if err != nil && canceled(ctx, err) {
			// снимок не запоминается: неопубликованные вакансии уйдут в следующем цикле
			interrupted = true
			return
		}
		if err != nil {
			rep.Outcome = OutcomeNotifyFailed
			rep.Err = err
			s.updateStatus(fmt.Sprintf("Posting failed: %v", err))
		} else {
			rep.Outcome = OutcomePosted
			s.updateStatus(fmt.Sprintf("Posted %d job(s) in %d message(s).", res.Listings, res.Batches))
		}
	}

	// снимок получен в этом цикле - запоминаем его независимо от результата публикации
	s.cfg.Memory.Replace(current)
}

// canceled сообщает, что ошибка вызвана остановкой планировщика.
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || shared.IsCanceled(err)
}

// sleep ждет d или отмены ctx.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.cfg.After != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cfg.After(d):
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// updateStatus передает сообщение наблюдателю. Паника наблюдателя не прерывает цикл.
func (s *Scheduler) updateStatus(msg string) {
	if s.cfg.OnStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status observer panicked", "panic", r)
		}
	}()
	s.cfg.OnStatus(statusPrefix + msg)
}

func (s *Scheduler) callHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler hook panicked", "panic", r)
		}
	}()
	fn()
}
