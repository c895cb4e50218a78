package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsyncbot/internal/messenger"
)

// MaxMessageLen is Telegram's limit for one text message.
const MaxMessageLen = 4096

const timestampLayout = "Jan 2, 2006 3:04 PM MST"

// Sender is the part of *bot.Bot used to deliver messages.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Channel delivers messages to one Telegram chat.
type Channel struct {
	sender Sender
	chatID any
	maxLen int
}

// NewChannel binds sender to chatID (int64 or "@username").
func NewChannel(sender Sender, chatID any) *Channel {
	return &Channel{sender: sender, chatID: chatID, maxLen: MaxMessageLen}
}

// SendStructured renders msg as HTML. A message longer than the Telegram limit
// is delivered as several consecutive messages split between fields.
func (c *Channel) SendStructured(ctx context.Context, msg messenger.Message) error {
	parts := RenderHTML(msg, c.maxLen)
	for i, part := range parts {
		_, err := c.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    c.chatID,
			Text:      part,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

// SendText sends plain text, split on line boundaries when needed.
func (c *Channel) SendText(ctx context.Context, text string) error {
	for _, part := range SplitText(text, c.maxLen) {
		if _, err := c.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: c.chatID,
			Text:   part,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RenderHTML renders a structured message into one or more HTML texts no longer
// than limit runes each. Title and description open the first part, the
// timestamp closes the last one.
func RenderHTML(msg messenger.Message, limit int) []string {
	var head strings.Builder
	if msg.Title != "" {
		head.WriteString("<b>" + html.EscapeString(msg.Title) + "</b>\n")
	}
	if msg.Description != "" {
		head.WriteString(html.EscapeString(msg.Description) + "\n")
	}

	blocks := make([]string, 0, len(msg.Fields)+1)
	for _, f := range msg.Fields {
		blocks = append(blocks, fieldBlock(f, limit))
	}
	if !msg.Timestamp.IsZero() {
		blocks = append(blocks, "\n<i>"+html.EscapeString(msg.Timestamp.Format(timestampLayout))+"</i>")
	}

	var parts []string
	cur := head.String()
	for _, b := range blocks {
		if cur != "" && utf8.RuneCountInString(cur)+utf8.RuneCountInString(b) > limit {
			parts = append(parts, strings.TrimSpace(cur))
			cur = ""
		}
		cur += b
	}
	if strings.TrimSpace(cur) != "" {
		parts = append(parts, strings.TrimSpace(cur))
	}
	return parts
}

// fieldMarkup is the rune count of the tags and newlines around one field.
const fieldMarkup = len("\n<b></b>\n\n")

// fieldBlock renders one field within limit runes. Text is cut before it is
// escaped and wrapped, so tags and entities always stay whole.
func fieldBlock(f messenger.Field, limit int) string {
	budget := max(limit-fieldMarkup, 0)
	label := escapeWithin(f.Label, budget)
	body := escapeWithin(f.Body, budget-utf8.RuneCountInString(label))
	return "\n<b>" + label + "</b>\n" + body + "\n"
}

// escapeWithin escapes s rune by rune and stops before the result would
// exceed budget runes.
func escapeWithin(s string, budget int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		esc := html.EscapeString(string(r))
		w := utf8.RuneCountInString(esc)
		if n+w > budget {
			break
		}
		b.WriteString(esc)
		n += w
	}
	return b.String()
}

// SplitText splits text into chunks of at most limit runes, preferring line breaks.
func SplitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		for utf8.RuneCountInString(line) > limit {
			if curLen > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
				curLen = 0
			}
			head := truncateRunes(line, limit)
			parts = append(parts, head)
			line = line[len(head):]
		}
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(line)
		curLen += n
	}
	if curLen > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
