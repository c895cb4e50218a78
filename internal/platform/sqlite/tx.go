package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"jobsyncbot/pkg/retry"
)

// txKey используется как ключ для хранения транзакции в context.Context
type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для БД и транзакции.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("nested transactions are not supported by SQLite")

// TxRunner выполняет функцию внутри транзакции и повторяет её при SQLITE_BUSY.
type TxRunner struct {
	DB    *sql.DB
	Retry retry.Config
}

// NewTxRunner создает TxRunner с тремя попытками и короткой экспоненциальной паузой.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{
		DB: db,
		Retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   10 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			Multiplier:     2.0,
			JitterStrategy: retry.JitterNone,
		},
	}
}

// WithinTx выполняет fn внутри транзакции. Ошибка fn откатывает транзакцию.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := SqlTx(ctx); ok {
		return ErrNestedTx
	}
	return retry.DoWithRetryable(ctx, r.Retry, func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	}, IsBusy)
}

func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SqlTx извлекает активную транзакцию из контекста.
func SqlTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// GetQuerier возвращает транзакцию из контекста или базу.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := SqlTx(ctx); ok {
		return tx
	}
	return r.DB
}

// IsBusy сообщает, является ли ошибка SQLITE_BUSY / SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
