package pg

import (
	"fmt"
	"net/url"
)

// ValidateDSN проверяет, что строка является URL PostgreSQL с хостом и базой.
func ValidateDSN(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("invalid DSN format: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("host is required")
	}
	if u.Path == "" || u.Path == "/" {
		return fmt.Errorf("database is required")
	}

	switch mode := u.Query().Get("sslmode"); mode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid sslmode: %s", mode)
	}
	return nil
}

// WithApplicationName добавляет application_name, если он ещё не задан.
func WithApplicationName(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DSN format: %w", err)
	}
	q := u.Query()
	if q.Get("application_name") != "" || name == "" {
		return dsn, nil
	}
	q.Set("application_name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedactDSN скрывает пароль для логов.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://invalid"
	}
	return u.Redacted()
}
