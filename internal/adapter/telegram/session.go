// Package telegram connects the bot to the Telegram Bot API: session lifecycle,
// channel delivery and the command dispatcher.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsyncbot/internal/messenger"
	"jobsyncbot/internal/shared"
	"jobsyncbot/internal/supervisor"
)

// ErrSessionClosed is reported by Err after Close.
var ErrSessionClosed = errors.New("telegram: session closed")

// ConnectorConfig configures Telegram sessions.
type ConnectorConfig struct {
	Token string
	// ServerURL overrides the Bot API endpoint (local Bot API server, tests).
	ServerURL string
	// Heartbeat is the getMe interval used to detect a dead connection.
	Heartbeat time.Duration
	// MaxMissedHeartbeats failed heartbeats in a row fail the session.
	MaxMissedHeartbeats int
	// Handler processes incoming updates (commands). Nil disables polling.
	Handler HandlerFunc
	// Workers is the number of dispatcher workers.
	Workers int
	Logger  *slog.Logger
}

// Connector opens Telegram sessions.
type Connector struct {
	cfg ConnectorConfig
}

// NewConnector validates cfg and returns a Connector.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Minute
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Connector{cfg: cfg}, nil
}

// Connect verifies the token with getMe and starts polling and the heartbeat.
func (c *Connector) Connect(ctx context.Context, obs messenger.Observers) (supervisor.Session, error) {
	s := &Session{
		cfg:    c.cfg,
		obs:    obs,
		logger: c.cfg.Logger.With("component", "telegram"),
		done:   make(chan struct{}),
	}

	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithErrorsHandler(func(err error) {
			s.logger.Debug("bot api error", "error", err)
		}),
		bot.WithAllowedUpdates([]string{"message", "callback_query"}),
	}
	if c.cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(c.cfg.ServerURL))
	}
	if c.cfg.Handler != nil {
		opts = append(opts, bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, upd *models.Update) {
			if s.disp != nil {
				s.disp.Dispatch(ctx, upd)
			}
		}))
	}

	b, err := bot.New(c.cfg.Token, opts...)
	if err != nil {
		return nil, shared.MarkKind(fmt.Errorf("telegram: create bot: %w", err), shared.KindConnection)
	}
	s.bot = b

	me, err := b.GetMe(ctx)
	if err != nil {
		return nil, shared.MarkKind(fmt.Errorf("telegram: getMe: %w", err), shared.KindConnection)
	}
	s.logger.Info("connected to telegram", "bot", me.Username)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if c.cfg.Handler != nil {
		s.disp = NewDispatcher(b, c.cfg.Workers, c.cfg.Handler)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			b.Start(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeat(runCtx)
	}()

	s.live.Store(true)
	obs.Connected()
	return s, nil
}

// Session is one live Bot API connection.
type Session struct {
	cfg    ConnectorConfig
	bot    *bot.Bot
	disp   *Dispatcher
	obs    messenger.Observers
	logger *slog.Logger

	live   atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	once sync.Once
	done chan struct{}
	err  error
}

// IsLive reports whether the last heartbeat succeeded.
func (s *Session) IsLive() bool {
	return s.live.Load()
}

// ResolveChannel checks the chat exists and is reachable. A chat the API does
// not know returns nil, nil.
func (s *Session) ResolveChannel(ctx context.Context, id string) (messenger.Channel, error) {
	chatID, err := ParseChatID(id)
	if err != nil {
		return nil, nil
	}
	if _, err := s.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID}); err != nil {
		if errors.Is(err, bot.ErrorBadRequest) || errors.Is(err, bot.ErrorForbidden) {
			s.logger.Warn("channel not resolvable", "channel", id, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("telegram: getChat %s: %w", id, err)
	}
	return NewChannel(s.bot, chatID), nil
}

// Done is closed when the session failed or was closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason Done was closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops polling and the heartbeat and waits for them within ctx.
func (s *Session) Close(ctx context.Context) error {
	s.finish(ErrSessionClosed)
	if s.cancel != nil {
		s.cancel()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		if s.disp != nil {
			s.disp.Stop()
		}
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: close: %w", ctx.Err())
	}
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.live.Store(false)
		s.err = err
		close(s.done)
	})
}

// heartbeat polls getMe; consecutive failures flip the session to
// disconnected and eventually fail it.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hctx, cancel := context.WithTimeout(ctx, s.cfg.Heartbeat)
		_, err := s.bot.GetMe(hctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			missed++
			s.logger.Warn("heartbeat failed", "missed", missed, "error", err)
			if s.live.Swap(false) {
				s.obs.Disconnected(err)
			}
			if missed >= s.cfg.MaxMissedHeartbeats {
				s.finish(shared.MarkKind(
					fmt.Errorf("telegram: %d heartbeats missed: %w", missed, err),
					shared.KindConnection,
				))
				return
			}
			continue
		}

		missed = 0
		if !s.live.Swap(true) {
			s.logger.Info("heartbeat recovered")
			s.obs.Connected()
		}
	}
}

// ParseChatID accepts a numeric chat id or an @username.
func ParseChatID(id string) (any, error) {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "@") && len(id) > 1 {
		return id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q", id)
	}
	return n, nil
}
