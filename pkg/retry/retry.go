package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"
)

// JitterStrategy defines the jitter strategy to use
type JitterStrategy int

const (
	// JitterNone disables jitter
	JitterNone JitterStrategy = iota
	// JitterEqual applies uniform jitter (equal chance of any delay in range)
	JitterEqual
	// JitterDecorrelated applies decorrelated jitter (AWS recommended)
	JitterDecorrelated
	// JitterAdditive adds a uniform random amount in [0, MaxJitter) on top of the capped delay
	JitterAdditive
)

// Config defines retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one)
	MaxAttempts int
	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration
	// MinDelay is the minimum delay between retries (defaults to InitialDelay)
	MinDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// MaxElapsedTime is the maximum total time to spend on retries (0 = no limit)
	MaxElapsedTime time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
	// MaxExponent stops exponential growth after this many attempts (0 = no limit)
	MaxExponent int
	// JitterStrategy defines the jitter algorithm to use
	JitterStrategy JitterStrategy
	// MaxJitter bounds the random amount added by JitterAdditive
	MaxJitter time.Duration
	// Rand is the random source for jitter (optional, uses local source if nil)
	Rand *rand.Rand
	// OnRetry is called on each retry attempt for observability
	OnRetry func(attempt int, err error, nextDelay time.Duration)
	// Now returns current time (for testing, defaults to time.Now)
	Now func() time.Time
	// After creates a timer channel (for testing, defaults to time.After)
	After func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterStrategy: JitterDecorrelated,
	}
}

// ReconnectConfig returns the backoff used between reconnect attempts:
// min(maxDelay, 2^min(attempt, 7)) seconds plus up to 750ms of additive jitter.
func ReconnectConfig(maxDelay time.Duration) Config {
	return Config{
		MaxAttempts:    1,
		InitialDelay:   2 * time.Second,
		MinDelay:       2 * time.Second,
		MaxDelay:       maxDelay,
		Multiplier:     2.0,
		MaxExponent:    7,
		JitterStrategy: JitterAdditive,
		MaxJitter:      750 * time.Millisecond,
	}
}

// Normalize validates and normalizes the configuration
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MinDelay <= 0 {
		c.MinDelay = c.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MinDelay > c.MaxDelay {
		return errors.New("retry: MinDelay cannot be greater than MaxDelay")
	}
	if c.InitialDelay < c.MinDelay || c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay must be between MinDelay and MaxDelay")
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if c.MaxElapsedTime < 0 {
		return errors.New("retry: MaxElapsedTime cannot be negative")
	}
	if c.MaxExponent < 0 {
		return errors.New("retry: MaxExponent cannot be negative")
	}
	if c.JitterStrategy == JitterAdditive && c.MaxJitter <= 0 {
		return errors.New("retry: MaxJitter must be positive for additive jitter")
	}

	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}

	return nil
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when retries are exhausted
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
	Reason        string
}

func (e *RetriesExceededError) Error() string {
	return "retry: " + e.Reason + " after " + e.TotalDuration.String() + " (" +
		fmt.Sprintf("%d", e.Attempts) + " attempts): " + e.LastError.Error()
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

// DefaultRetryable returns true for temporary errors and context deadline exceeded
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context cancellation
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	type netError interface {
		Timeout() bool
	}
	if ne, ok := err.(netError); ok && ne.Timeout() {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, net.ErrClosed) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if ne, ok := urlErr.Err.(netError); ok && ne.Timeout() {
			return true
		}

		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) && dnsErr.IsTemporary {
			return true
		}

		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			var syscallErr *os.SyscallError
			if errors.As(opErr.Err, &syscallErr) {
				switch syscallErr.Err {
				case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
					syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
					syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
					return true
				}
			}
		}
	}

	// Check for connection refused on raw dial errors (no url.Error wrapper)
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	type temporary interface {
		Temporary() bool
	}
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}

	return false
}

// Do executes a function with retry logic using exponential backoff
func Do(ctx context.Context, config Config, fn RetryableFunc) error {
	return DoWithRetryable(ctx, config, fn, DefaultRetryable)
}

// DoWithRetryable executes a function with retry logic and custom retryable check
func DoWithRetryable(ctx context.Context, config Config, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	configCopy := config
	if err := configCopy.Normalize(); err != nil {
		return err
	}

	var lastErr error
	startTime := configCopy.Now()

	for attempt := 1; attempt <= configCopy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == configCopy.MaxAttempts {
			break
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		delay := configCopy.delay(attempt)

		if configCopy.MaxElapsedTime > 0 {
			elapsed := configCopy.Now().Sub(startTime)
			if elapsed+delay > configCopy.MaxElapsedTime {
				return &RetriesExceededError{
					LastError:     lastErr,
					Attempts:      attempt,
					TotalDuration: elapsed,
					Reason:        "max elapsed time exceeded",
				}
			}
		}

		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if delay > remaining {
				delay = remaining
			}
		}

		if configCopy.OnRetry != nil {
			configCopy.OnRetry(attempt, lastErr, delay)
		}

		timer := configCopy.After(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer:
		}
	}

	return &RetriesExceededError{
		LastError:     lastErr,
		Attempts:      configCopy.MaxAttempts,
		TotalDuration: configCopy.Now().Sub(startTime),
		Reason:        "max attempts exceeded",
	}
}

// Backoff computes delays for an open-ended sequence of attempts.
// It is not safe for concurrent use.
type Backoff struct {
	cfg Config
}

// NewBackoff validates the configuration and returns a Backoff.
func NewBackoff(cfg Config) (*Backoff, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg}, nil
}

// Delay returns the jittered delay before the given (1-based) attempt is retried.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.cfg.delay(attempt)
}

// Max returns the largest delay Delay can return.
func (b *Backoff) Max() time.Duration {
	if b.cfg.JitterStrategy == JitterAdditive {
		return b.cfg.MaxDelay + b.cfg.MaxJitter
	}
	return b.cfg.MaxDelay
}

// Sleep blocks for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c Config) delay(attempt int) time.Duration {
	return c.applyJitter(c.calculateDelay(attempt))
}

// calculateDelay calculates the delay for the given attempt using exponential backoff
func (c Config) calculateDelay(attempt int) time.Duration {
	if c.MaxExponent > 0 && attempt > c.MaxExponent {
		attempt = c.MaxExponent
	}

	delay := c.InitialDelay

	for i := 1; i < attempt; i++ {
		// Check for overflow before multiplication
		if delay > c.MaxDelay/time.Duration(c.Multiplier) {
			return c.MaxDelay
		}
		delay = time.Duration(float64(delay) * c.Multiplier)

		if delay > c.MaxDelay {
			return c.MaxDelay
		}
	}

	return clamp(delay, c.MinDelay, c.MaxDelay)
}

// applyJitter applies the configured jitter strategy to the delay
func (c Config) applyJitter(baseDelay time.Duration) time.Duration {
	switch c.JitterStrategy {
	case JitterEqual:
		jitter := time.Duration(c.Rand.Int63n(int64(baseDelay)))
		return clamp(jitter, c.MinDelay, c.MaxDelay)

	case JitterDecorrelated:
		// 3 * baseDelay / 2 ± baseDelay / 2
		max := 3 * baseDelay / 2
		jitter := baseDelay + time.Duration(c.Rand.Int63n(int64(max-baseDelay/2)))
		return clamp(jitter, c.MinDelay, c.MaxDelay)

	case JitterAdditive:
		// Not clamped: the cap applies to the exponential part only.
		return baseDelay + time.Duration(c.Rand.Int63n(int64(c.MaxJitter)))

	default:
		return baseDelay
	}
}

// clamp ensures the value is within the specified bounds
func clamp(value, min, max time.Duration) time.Duration {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
