// Package httpclient wraps net/http with logging, redaction and retries for
// idempotent requests, plus an atomic file download used by the feed fetcher.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"jobsyncbot/pkg/retry"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// Client wraps http.Client with logging and retries.
type Client struct {
	hc               *stdhttp.Client
	log              *slog.Logger
	retries          int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	maxRetryDuration time.Duration
	headers          map[string]string
	user, password   string
	urlRedactor      func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// WithMaxRetryDuration limits total time spent on retries.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.maxRetryDuration = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   60 * time.Second,
			Transport: tr,
		},
		log:         slog.Default(),
		baseBackoff: 500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// retryInfo determines if request should be retried and returns optional delay.
func retryInfo(resp *stdhttp.Response, err error) (time.Duration, bool) {
	if err != nil {
		return 0, retry.DefaultRetryable(err) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch {
	case resp.StatusCode == stdhttp.StatusRequestTimeout, resp.StatusCode == stdhttp.StatusTooEarly:
		return 0, true
	case resp.StatusCode == stdhttp.StatusTooManyRequests, resp.StatusCode >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), true
	default:
		return 0, false
	}
}

func idempotent(method string) bool {
	return method == stdhttp.MethodGet || method == stdhttp.MethodHead || method == stdhttp.MethodOptions
}

// Do sends HTTP request with context, logging and retries.
// Only GET, HEAD and OPTIONS are retried; the returned response is never a retryable one.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	retries := c.retries
	if !idempotent(req.Method) {
		retries = 0
	}

	backoff, err := retry.NewBackoff(retry.Config{
		MaxAttempts:    retries + 1,
		InitialDelay:   c.baseBackoff,
		MaxDelay:       max(c.maxBackoff, c.baseBackoff),
		JitterStrategy: retry.JitterDecorrelated,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= retries+1; attempt++ {
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if c.user != "" {
			r.SetBasicAuth(c.user, c.password)
		}

		u := c.redactURL(r.URL)
		st := time.Now()
		resp, err := c.hc.Do(r)
		dur := time.Since(st)

		delay, again := retryInfo(resp, err)
		if !again || attempt > retries {
			if err != nil {
				c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Any("error", err))
				return nil, err
			}
			c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur), slog.Int("attempt", attempt))
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{Method: r.Method, URL: u, Code: resp.StatusCode}
			drainAndClose(resp.Body)
		}

		wait := backoff.Delay(attempt)
		if delay > 0 {
			wait = min(delay, backoff.Max())
		}
		if c.maxRetryDuration > 0 && time.Since(start)+wait > c.maxRetryDuration {
			return nil, fmt.Errorf("retry budget exceeded: %w", lastErr)
		}

		c.log.Warn("http request retry",
			slog.String("method", r.Method),
			slog.String("url", u),
			slog.Int("attempt", attempt),
			slog.Int("attempts_left", retries-attempt),
			slog.Duration("wait", wait),
			slog.Any("error", lastErr),
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Download fetches rawURL and atomically replaces dest with the body.
// It returns the number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{Method: req.Method, URL: c.redactURL(req.URL), Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return n, nil
}
