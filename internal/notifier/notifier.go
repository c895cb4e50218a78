// Package notifier announces new listings on the configured channel.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jobsyncbot/internal/domain/listing"
	"jobsyncbot/internal/messenger"
	"jobsyncbot/internal/shared"
)

const (
	statusPrefix = "[Notifier] "
	title        = "New Jobs Posted"
	dateLayout   = "1/2/2006"
)

// Config holds notifier settings.
type Config struct {
	// ChannelID identifies the destination channel on the backend.
	ChannelID string
	// BatchSize is the number of listings per structured message (1..messenger.MaxFields).
	BatchSize int
	// Location is the canonical time zone used for the footer date.
	Location *time.Location
	// RunTimes are the human-readable update times shown in the footer.
	RunTimes []string
	// OnStatus receives progress messages. Optional.
	OnStatus func(string)
	// Logger is used for debug output. Optional.
	Logger *slog.Logger
	// Now returns current time (for testing, defaults to time.Now).
	Now func() time.Time
}

// Result describes what a Post delivered.
type Result struct {
	Batches  int
	Listings int
}

// Notifier posts listings through a borrowed session.
type Notifier struct {
	session messenger.Session
	cfg     Config
}

// New creates a Notifier bound to the session.
func New(session messenger.Session, cfg Config) *Notifier {
	if cfg.BatchSize <= 0 || cfg.BatchSize > messenger.MaxFields {
		cfg.BatchSize = messenger.MaxFields
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Notifier{session: session, cfg: cfg}
}

// Post sends listings in input order, one structured message per batch, followed
// by a footer text message. Nothing is sent when the session is down or the
// channel does not resolve; the returned error is then ErrChannelUnavailable.
// A failed send aborts the remaining batches and returns ErrSend.
func (n *Notifier) Post(ctx context.Context, listings []listing.Listing) (Result, error) {
	var res Result
	if len(listings) == 0 {
		return res, nil
	}

	if n.session == nil || !n.session.IsLive() {
		n.status("Session is not connected, skipping post.")
		return res, shared.Wrap(shared.ErrChannelUnavailable, "session is not live")
	}

	ch, err := n.session.ResolveChannel(ctx, n.cfg.ChannelID)
	if err != nil {
		n.status(fmt.Sprintf("Channel %s could not be resolved: %v", n.cfg.ChannelID, err))
		return res, shared.MarkKind(shared.Wrapf(err, "resolve channel %s", n.cfg.ChannelID), shared.KindChannelUnavailable)
	}
	if ch == nil {
		n.status(fmt.Sprintf("Channel %s not found, skipping post.", n.cfg.ChannelID))
		return res, shared.Wrapf(shared.ErrChannelUnavailable, "channel %s not found", n.cfg.ChannelID)
	}

	batches := Batches(listings, n.cfg.BatchSize)
	for i, batch := range batches {
		if err := ch.SendStructured(ctx, n.message(batch, len(listings))); err != nil {
			n.status(fmt.Sprintf("Sending batch %d/%d failed: %v", i+1, len(batches), err))
			return res, fmt.Errorf("%w: batch %d/%d: %w", shared.ErrSend, i+1, len(batches), err)
		}
		res.Batches++
		res.Listings += len(batch)
		n.cfg.Logger.Debug("batch posted", "batch", i+1, "of", len(batches), "listings", len(batch))
	}

	if err := ch.SendText(ctx, n.Footer()); err != nil {
		n.status(fmt.Sprintf("Sending footer failed: %v", err))
		return res, fmt.Errorf("%w: footer: %w", shared.ErrSend, err)
	}

	return res, nil
}

// Footer returns the trailing message sent after every post.
func (n *Notifier) Footer() string {
	date := n.cfg.Now().In(n.cfg.Location).Format(dateLayout)
	footer := "Date Posted: " + date
	if len(n.cfg.RunTimes) > 0 {
		footer += "\nUpdate times are " + strings.Join(n.cfg.RunTimes, ", ")
	}
	return footer
}

func (n *Notifier) message(batch []listing.Listing, total int) messenger.Message {
	fields := make([]messenger.Field, 0, len(batch))
	for _, l := range batch {
		fields = append(fields, Field(l))
	}
	return messenger.Message{
		Title:       title,
		Description: fmt.Sprintf("Found %d new job(s).", total),
		Timestamp:   n.cfg.Now(),
		Fields:      fields,
	}
}

func (n *Notifier) status(msg string) {
	if n.cfg.OnStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.cfg.Logger.Error("status observer panicked", "panic", r)
		}
	}()
	n.cfg.OnStatus(statusPrefix + msg)
}

// Field renders one listing as a message field.
func Field(l listing.Listing) messenger.Field {
	body := fmt.Sprintf(
		"Needed: %d\nWages: %s\nNat. Pension: %s\nLocal Pension: %s\nHealth/Welfare: %s\nHours/OT: %s\nDates: %s → %s",
		l.NeededCount(), l.Wages, l.NationalPension, l.LocalPension, l.HealthWelfare, l.Hours, l.StartDate, l.EndDate,
	)
	return messenger.Field{
		Label:  l.Trade + " — " + l.Location,
		Body:   body,
		Inline: true,
	}
}

// Batches splits listings into consecutive groups of at most size elements.
func Batches(listings []listing.Listing, size int) [][]listing.Listing {
	if size <= 0 {
		size = messenger.MaxFields
	}
	out := make([][]listing.Listing, 0, (len(listings)+size-1)/size)
	for start := 0; start < len(listings); start += size {
		end := start + size
		if end > len(listings) {
			end = len(listings)
		}
		out = append(out, listings[start:end])
	}
	return out
}
