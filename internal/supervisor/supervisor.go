// Package supervisor keeps a messaging-backend session alive and runs the
// sync scheduler only while the session is connected.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"jobsyncbot/internal/messenger"
	"jobsyncbot/internal/shared"
	"jobsyncbot/pkg/retry"
)

// State is the supervisor's view of the backend connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFatallyFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFatallyFailed:
		return "fatally_failed"
	default:
		return "unknown"
	}
}

// Session is a backend session owned by the supervisor.
type Session interface {
	messenger.Session
	// Done is closed when the session has failed unrecoverably or was closed.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Close(ctx context.Context) error
}

// Connector opens sessions. Observers are registered before the session is opened.
type Connector interface {
	Connect(ctx context.Context, obs messenger.Observers) (Session, error)
}

// Runner is the scheduler bound to one session.
type Runner interface {
	Start()
	Stop()
}

// RunnerFactory builds a scheduler for a freshly connected session.
type RunnerFactory func(session messenger.Session) (Runner, error)

// Config configures a Supervisor.
type Config struct {
	Connector Connector
	NewRunner RunnerFactory
	// BackoffMax caps the exponential part of the reconnect delay.
	BackoffMax time.Duration
	// ResetAfter resets the attempt counter when a session stayed up at least
	// this long before failing. Zero keeps the counter growing for the process lifetime.
	ResetAfter time.Duration
	// CloseTimeout bounds session shutdown.
	CloseTimeout  time.Duration
	OnStateChange func(State)
	Logger        *slog.Logger

	// Now, Sleep and Rand are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// Supervisor runs the connect → run → back off → reconnect loop.
type Supervisor struct {
	cfg     Config
	backoff *retry.Backoff
	logger  *slog.Logger

	state   atomic.Int32
	attempt atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// New validates cfg and creates a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Connector == nil {
		return nil, errors.New("supervisor: connector is required")
	}
	if cfg.NewRunner == nil {
		return nil, errors.New("supervisor: runner factory is required")
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 120 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rc := retry.ReconnectConfig(cfg.BackoffMax)
	rc.Rand = cfg.Rand
	backoff, err := retry.NewBackoff(rc)
	if err != nil {
		return nil, fmt.Errorf("supervisor: backoff: %w", err)
	}

	s := &Supervisor{
		cfg:     cfg,
		backoff: backoff,
		logger:  logger,
	}
	s.attempt.Store(1)
	return s, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Attempt returns the reconnect attempt counter (starts at 1).
func (s *Supervisor) Attempt() int {
	return int(s.attempt.Load())
}

// LastError returns the error that caused the most recent reconnect.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run blocks until ctx is cancelled. Session failures are retried with
// capped exponential backoff; cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.runSession(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}

		s.setState(StateFatallyFailed)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		attempt := s.Attempt()
		delay := s.backoff.Delay(attempt)
		s.logger.Warn("session failed, reconnecting",
			"attempt", attempt,
			"delay", delay.Round(time.Millisecond),
			"error", err,
		)

		if err := s.cfg.Sleep(ctx, delay); err != nil {
			s.logger.Info("supervisor stopped during backoff")
			return nil
		}
		s.attempt.Add(1)
	}
}

// runSession opens one session and runs a scheduler on it until the session
// fails or ctx is cancelled. The scheduler is stopped before the session is closed.
func (s *Supervisor) runSession(ctx context.Context) error {
	s.setState(StateConnecting)
	obs := messenger.Observers{
		OnConnected: func() { s.setState(StateConnected) },
		OnDisconnected: func(err error) {
			s.logger.Warn("session reported disconnect", "error", err)
			s.setState(StateDisconnected)
		},
	}

	session, err := s.cfg.Connector.Connect(ctx, obs)
	if err != nil {
		return shared.MarkKind(fmt.Errorf("connect: %w", err), shared.KindConnection)
	}
	defer s.closeSession(session)

	s.setState(StateConnected)
	connectedAt := s.cfg.Now()
	s.logger.Info("session connected", "attempt", s.Attempt())

	runner, err := s.cfg.NewRunner(session)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	runner.Start()
	defer s.stopRunner(runner)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-session.Done():
	}

	err = session.Err()
	if err == nil {
		err = errors.New("session closed")
	}

	uptime := s.cfg.Now().Sub(connectedAt)
	if s.cfg.ResetAfter > 0 && uptime >= s.cfg.ResetAfter {
		s.logger.Info("session was stable, resetting reconnect attempts", "uptime", uptime.Round(time.Second))
		s.attempt.Store(1)
	}

	return shared.MarkKind(err, shared.KindConnection)
}

// contextStopper is a Runner whose shutdown can be bounded.
type contextStopper interface {
	StopContext(ctx context.Context) error
}

func (s *Supervisor) stopRunner(r Runner) {
	cs, ok := r.(contextStopper)
	if !ok {
		r.Stop()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()
	if err := cs.StopContext(ctx); err != nil {
		s.logger.Warn("scheduler stop exceeded close timeout", "error", err)
	}
}

func (s *Supervisor) closeSession(session Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		s.logger.Warn("failed to close session", "error", err)
	}
}

func (s *Supervisor) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.logger.Debug("connection state changed", "state", st.String())
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}
