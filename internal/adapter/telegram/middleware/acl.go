// Package middleware содержит телеграм‑middleware, включая ACL по списку разрешённых пользователей
package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsyncbot/internal/adapter/telegram"
)

// ACL проверяет доступ по списку разрешённых Telegram user IDs.
// Пустой список разрешает всех.
type ACL struct{ allowed map[int64]struct{} }

// NewACL создаёт ACL по списку ID
func NewACL(ids []int64) *ACL {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &ACL{allowed: m}
}

// IsAllowed сообщает, имеет ли пользователь доступ
func (a *ACL) IsAllowed(id int64) bool {
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[id]
	return ok
}

// Middleware блокирует выполнение хендлера для неразрешённых пользователей
func (a *ACL) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, upd *models.Update) {
		uid, chat := sender(upd)
		if uid == 0 || a.IsAllowed(uid) {
			next(ctx, b, upd)
			return
		}
		if chat != 0 && b != nil {
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chat, Text: "access denied"})
		}
	}
}

// sender возвращает ID пользователя и чата из апдейта
func sender(upd *models.Update) (uid, chat int64) {
	if m := upd.Message; m != nil {
		chat = m.Chat.ID
		if m.From != nil {
			uid = m.From.ID
		}
	} else if cb := upd.CallbackQuery; cb != nil {
		uid = cb.From.ID
		if cb.Message.Message != nil {
			chat = cb.Message.Message.Chat.ID
		}
	}
	return uid, chat
}

// ParseAllowedIDs парсит список ID из строки (разделители: запятая/переносы)
func ParseAllowedIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\t' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
