// Package config loads settings from the environment, an optional .env file
// and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"jobsyncbot/internal/adapter/scheduler"
	"jobsyncbot/internal/adapter/telegram"
	"jobsyncbot/internal/adapter/telegram/middleware"
	"jobsyncbot/internal/platform/pg"
)

// Duration is a time.Duration written as "10s" / "1m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds application configuration values.
type Config struct {
	Env string `toml:"env" validate:"required,oneof=dev prod"`
	Log struct {
		ConsoleLevel string `toml:"console_level" validate:"required,oneof=debug info warn error"`
		FileLevel    string `toml:"file_level" validate:"required,oneof=debug info warn error"`
		File         string `toml:"file"`
	} `toml:"log"`
	Telegram struct {
		Token               string   `toml:"token" validate:"required"`
		ServerURL           string   `toml:"server_url" validate:"omitempty,url"`
		ChannelID           string   `toml:"channel_id" validate:"required"`
		Heartbeat           Duration `toml:"heartbeat"`
		MaxMissedHeartbeats int      `toml:"max_missed_heartbeats" validate:"min=1"`
		AllowedIDs          []int64  `toml:"allowed_ids"`
		Workers             int      `toml:"workers" validate:"min=1,max=64"`
	} `toml:"telegram"`
	Sync struct {
		Timezone  string   `toml:"timezone" validate:"required"`
		RunTimes  []string `toml:"run_times" validate:"required,min=1,dive,clock"`
		Cooldown  Duration `toml:"cooldown"`
		BatchSize int      `toml:"batch_size" validate:"min=1,max=25"`
	} `toml:"sync"`
	Supervisor struct {
		BackoffMax Duration `toml:"backoff_max"`
		ResetAfter Duration `toml:"reset_after"`
	} `toml:"supervisor"`
	Feed struct {
		URL      string   `toml:"url" validate:"omitempty,url"`
		File     string   `toml:"file"`
		User     string   `toml:"user"`
		Password string   `toml:"password"`
		Dir      string   `toml:"dir" validate:"required"`
		Timeout  Duration `toml:"timeout"`
		Retries  int      `toml:"retries" validate:"min=0,max=10"`
	} `toml:"feed"`
	Journal struct {
		Driver    string `toml:"driver" validate:"oneof=none sqlite postgres"`
		DSN       string `toml:"dsn"`
		Retention int    `toml:"retention" validate:"min=1"`
	} `toml:"journal"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
}

// Options selects the sources Load reads.
type Options struct {
	// EnvFile is a dotenv file. Empty means ".env" if present.
	EnvFile string
	// ConfigFile is an optional TOML file.
	ConfigFile string
	// Lookup reads the process environment (default os.LookupEnv).
	Lookup func(string) (string, bool)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	var c Config
	c.Env = "prod"
	c.Log.ConsoleLevel = "info"
	c.Log.FileLevel = "debug"
	c.Log.File = "data/logs/bot.log"
	c.Telegram.Heartbeat = Duration{time.Minute}
	c.Telegram.MaxMissedHeartbeats = 3
	c.Telegram.Workers = 4
	c.Sync.Timezone = "America/New_York"
	c.Sync.RunTimes = []string{"09:00", "12:00", "18:30"}
	c.Sync.Cooldown = Duration{10 * time.Second}
	c.Sync.BatchSize = 25
	c.Supervisor.BackoffMax = Duration{120 * time.Second}
	c.Supervisor.ResetAfter = Duration{10 * time.Minute}
	c.Feed.Dir = "data/feed"
	c.Feed.Timeout = Duration{60 * time.Second}
	c.Feed.Retries = 2
	c.Journal.Driver = "sqlite"
	c.Journal.DSN = "data/journal.db"
	c.Journal.Retention = 1000
	c.HTTP.Addr = ":8080"
	return c
}

// Load merges defaults, the TOML file, the .env file and the environment,
// in increasing order of precedence, and validates the result.
func Load(opts Options) (Config, error) {
	c := Defaults()

	if opts.ConfigFile != "" {
		if _, err := toml.DecodeFile(opts.ConfigFile, &c); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
		}
	}

	dotenv, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return Config{}, err
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(k string) (string, bool) {
		if v, ok := lookup(k); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[k]
		return v, ok && v != ""
	}

	if err := applyEnv(&c, env); err != nil {
		return Config{}, err
	}
	c.normalize()

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		m, err := godotenv.Read()
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return m, err
	}
	m, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return m, nil
}

func applyEnv(c *Config, env func(string) (string, bool)) error {
	var errs []error

	str := func(k string, dst *string) {
		if v, ok := env(k); ok {
			*dst = v
		}
	}
	num := func(k string, dst *int) {
		if v, ok := env(k); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", k, v))
				return
			}
			*dst = n
		}
	}
	dur := func(k string, dst *Duration) {
		if v, ok := env(k); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
			}
		}
	}

	str("ENV", &c.Env)
	str("LOG_CONSOLE_LEVEL", &c.Log.ConsoleLevel)
	str("LOG_FILE_LEVEL", &c.Log.FileLevel)
	str("LOG_FILE", &c.Log.File)

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	str("TELEGRAM_SERVER_URL", &c.Telegram.ServerURL)
	str("TELEGRAM_CHANNEL_ID", &c.Telegram.ChannelID)
	dur("TELEGRAM_HEARTBEAT", &c.Telegram.Heartbeat)
	num("TELEGRAM_MAX_MISSED_HEARTBEATS", &c.Telegram.MaxMissedHeartbeats)
	num("TELEGRAM_WORKERS", &c.Telegram.Workers)
	if v, ok := env("TELEGRAM_ALLOWED_IDS"); ok {
		ids, err := middleware.ParseAllowedIDs(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_ALLOWED_IDS: %w", err))
		} else {
			c.Telegram.AllowedIDs = ids
		}
	}

	str("SYNC_TIMEZONE", &c.Sync.Timezone)
	if v, ok := env("SYNC_RUN_TIMES"); ok {
		c.Sync.RunTimes = splitList(v)
	}
	dur("SYNC_COOLDOWN", &c.Sync.Cooldown)
	num("NOTIFY_BATCH_SIZE", &c.Sync.BatchSize)

	dur("SUPERVISOR_BACKOFF_MAX", &c.Supervisor.BackoffMax)
	dur("SUPERVISOR_RESET_AFTER", &c.Supervisor.ResetAfter)

	str("FEED_URL", &c.Feed.URL)
	str("FEED_FILE", &c.Feed.File)
	str("FEED_USER", &c.Feed.User)
	str("FEED_PASSWORD", &c.Feed.Password)
	str("FEED_DIR", &c.Feed.Dir)
	dur("FEED_TIMEOUT", &c.Feed.Timeout)
	num("FEED_RETRIES", &c.Feed.Retries)

	str("JOURNAL_DRIVER", &c.Journal.Driver)
	str("JOURNAL_DSN", &c.Journal.DSN)
	num("JOURNAL_RETENTION", &c.Journal.Retention)

	// HTTP_ADDR="off" disables the ops server.
	str("HTTP_ADDR", &c.HTTP.Addr)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Log.ConsoleLevel = strings.ToLower(c.Log.ConsoleLevel)
	c.Log.FileLevel = strings.ToLower(c.Log.FileLevel)
	c.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Journal.Driver))
	if c.Journal.Driver == "" {
		c.Journal.Driver = "none"
	}
	if strings.EqualFold(c.HTTP.Addr, "off") {
		c.HTTP.Addr = ""
	}
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("SYNC_TIMEZONE: %w", err))
	}
	if _, err := telegram.ParseChatID(c.Telegram.ChannelID); err != nil {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHANNEL_ID: %w", err))
	}
	if (c.Feed.URL == "") == (c.Feed.File == "") {
		errs = append(errs, errors.New("exactly one of FEED_URL and FEED_FILE must be set"))
	}
	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "http://") && !strings.HasPrefix(c.Feed.URL, "https://") {
		errs = append(errs, errors.New("FEED_URL must be an http(s) url"))
	}
	if c.Feed.Password != "" && c.Feed.User == "" {
		errs = append(errs, errors.New("FEED_PASSWORD requires FEED_USER"))
	}
	if c.Feed.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("FEED_TIMEOUT must be positive"))
	}
	if c.Telegram.Heartbeat.Duration <= 0 {
		errs = append(errs, errors.New("TELEGRAM_HEARTBEAT must be positive"))
	}
	if c.Sync.Cooldown.Duration <= 0 {
		errs = append(errs, errors.New("SYNC_COOLDOWN must be positive"))
	}
	if c.Supervisor.BackoffMax.Duration < 2*time.Second {
		errs = append(errs, errors.New("SUPERVISOR_BACKOFF_MAX must be at least 2s"))
	}
	if c.Supervisor.ResetAfter.Duration < 0 {
		errs = append(errs, errors.New("SUPERVISOR_RESET_AFTER cannot be negative"))
	}
	switch c.Journal.Driver {
	case "sqlite":
		if c.Journal.DSN == "" {
			errs = append(errs, errors.New("JOURNAL_DSN is required for sqlite"))
		}
	case "postgres":
		if err := pg.ValidateDSN(c.Journal.DSN); err != nil {
			errs = append(errs, fmt.Errorf("JOURNAL_DSN: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location loads the canonical time zone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sync.Timezone)
}

// Clocks returns the parsed run times.
func (c Config) Clocks() ([]scheduler.ClockTime, error) {
	return scheduler.ParseClocks(c.Sync.RunTimes)
}

// Summary renders the effective configuration with secrets masked.
func (c Config) Summary() string {
	mask := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return "****"
	}
	journalDSN := c.Journal.DSN
	if c.Journal.Driver == "postgres" {
		journalDSN = pg.RedactDSN(journalDSN)
	}
	httpAddr := c.HTTP.Addr
	if httpAddr == "" {
		httpAddr = "(disabled)"
	}
	feed := c.Feed.File
	if c.Feed.URL != "" {
		feed = c.Feed.URL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "env:        %s\n", c.Env)
	fmt.Fprintf(&b, "log:        console=%s file=%s (%s)\n", c.Log.ConsoleLevel, c.Log.FileLevel, c.Log.File)
	fmt.Fprintf(&b, "telegram:   token=%s channel=%s heartbeat=%s allowed_ids=%d\n",
		mask(c.Telegram.Token), c.Telegram.ChannelID, c.Telegram.Heartbeat.Duration, len(c.Telegram.AllowedIDs))
	fmt.Fprintf(&b, "sync:       %s in %s, cooldown=%s, batch=%d\n",
		strings.Join(c.Sync.RunTimes, ", "), c.Sync.Timezone, c.Sync.Cooldown.Duration, c.Sync.BatchSize)
	fmt.Fprintf(&b, "supervisor: backoff_max=%s reset_after=%s\n", c.Supervisor.BackoffMax.Duration, c.Supervisor.ResetAfter.Duration)
	fmt.Fprintf(&b, "feed:       %s user=%s password=%s dir=%s timeout=%s\n",
		feed, c.Feed.User, mask(c.Feed.Password), c.Feed.Dir, c.Feed.Timeout.Duration)
	fmt.Fprintf(&b, "journal:    %s %s (keep %d)\n", c.Journal.Driver, journalDSN, c.Journal.Retention)
	fmt.Fprintf(&b, "http:       %s\n", httpAddr)
	return b.String()
}
