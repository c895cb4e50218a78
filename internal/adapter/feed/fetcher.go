// Package feed acquires the job board CSV export and parses it into listings.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"jobsyncbot/internal/platform/httpclient"
	"jobsyncbot/internal/shared"
)

// FileName is the name of the downloaded export inside the feed directory.
const FileName = "jobs.csv"

// HTTPConfig configures HTTPFetcher.
type HTTPConfig struct {
	URL      string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
	Retries  int
	Logger   *slog.Logger
}

// HTTPFetcher downloads the export from a URL into Dir/jobs.csv.
type HTTPFetcher struct {
	url  string
	dest string
	hc   *httpclient.Client
	log  *slog.Logger
}

// NewHTTPFetcher validates cfg and builds the fetcher.
func NewHTTPFetcher(cfg HTTPConfig) (*HTTPFetcher, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, shared.MarkKind(fmt.Errorf("feed url %q is not an http(s) url", cfg.URL), shared.KindValidation)
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join("data", "feed")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := []httpclient.Option{
		httpclient.WithLogger(log),
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithRetries(cfg.Retries, time.Second),
		httpclient.WithMaxBackoff(15 * time.Second),
		httpclient.WithMaxRetryDuration(2 * cfg.Timeout),
		httpclient.WithHeaders(map[string]string{"Accept": "text/csv, */*"}),
		httpclient.WithURLRedactor(RedactURL),
	}
	if cfg.User != "" {
		opts = append(opts, httpclient.WithBasicAuth(cfg.User, cfg.Password))
	}

	return &HTTPFetcher{
		url:  cfg.URL,
		dest: filepath.Join(cfg.Dir, FileName),
		hc:   httpclient.New(opts...),
		log:  log,
	}, nil
}

// Fetch downloads the export and returns the local path.
func (f *HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	n, err := f.hc.Download(ctx, f.url, f.dest)
	if err != nil {
		if shared.IsCanceled(err) {
			return "", err
		}
		return "", shared.MarkKind(err, shared.KindFetch)
	}
	if n == 0 {
		return "", shared.MarkKind(errors.New("feed export is empty"), shared.KindFetch)
	}
	f.log.Debug("feed downloaded", slog.String("path", f.dest), slog.Int64("bytes", n))
	return f.dest, nil
}

// RedactURL hides credentials and query values, which often carry access keys.
func RedactURL(u *url.URL) string {
	c := *u
	if c.RawQuery != "" {
		q := c.Query()
		for k := range q {
			q.Set(k, "xxxxx")
		}
		c.RawQuery = q.Encode()
	}
	return c.Redacted()
}

// FileFetcher hands out a file dropped by an external exporter.
type FileFetcher struct {
	path string
}

// NewFileFetcher returns a FileFetcher for path.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

// Fetch checks that the file exists and is not empty.
func (f *FileFetcher) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	st, err := os.Stat(f.path)
	if err != nil {
		return "", shared.MarkKind(err, shared.KindFetch)
	}
	if st.IsDir() {
		return "", shared.MarkKind(fmt.Errorf("%s is a directory", f.path), shared.KindFetch)
	}
	if st.Size() == 0 {
		return "", shared.MarkKind(fmt.Errorf("%s is empty", f.path), shared.KindFetch)
	}
	return f.path, nil
}
