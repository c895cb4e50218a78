// Package handlers contains the bot's chat commands.
package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsyncbot/internal/adapter/telegram"
)

// StatusProvider renders the current sync status for /status.
type StatusProvider interface {
	StatusText(ctx context.Context) string
}

// Commands routes chat commands.
type Commands struct {
	status  StatusProvider
	version string
	logger  *slog.Logger
}

// New creates command handlers.
func New(status StatusProvider, version string, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{status: status, version: version, logger: logger}
}

// Handle routes updates to command handlers.
func (c *Commands) Handle(ctx context.Context, b *bot.Bot, upd *models.Update) {
	c.handle(ctx, b, upd)
}

func (c *Commands) handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	switch Command(msg.Text) {
	case "start":
		c.reply(ctx, s, msg, "Job sync bot "+c.version+" is running.\nCommands: /status, /ping")
	case "ping":
		c.reply(ctx, s, msg, "pong")
	case "status":
		text := "status is not available"
		if c.status != nil {
			text = c.status.StatusText(ctx)
		}
		c.reply(ctx, s, msg, text)
	}
}

func (c *Commands) reply(ctx context.Context, s telegram.Sender, msg *models.Message, text string) {
	_, err := s.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   text,
	})
	if err != nil {
		c.logger.Warn("send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

// Command extracts the command name: "/status@JobBot now" → "status".
func Command(text string) string {
	cmd := strings.TrimPrefix(strings.SplitN(text, " ", 2)[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}
