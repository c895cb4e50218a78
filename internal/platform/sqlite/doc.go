// Package sqlite предоставляет инфраструктуру для встроенной SQLite базы.
//
// Открытие базы с настройками по умолчанию (WAL, busy_timeout):
//
//	db, err := sqlite.NewDB(ctx, "data/journal.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// Миграции встраиваются в бинарник и применяются через golang-migrate:
//
//	//go:embed migrations/sqlite/*.sql
//	var migrations embed.FS
//
//	err = sqlite.ApplyMigrationsFromFS("data/journal.db", migrations, "migrations/sqlite")
//
// Транзакции с повтором при SQLITE_BUSY:
//
//	runner := sqlite.NewTxRunner(db)
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		_, err := runner.GetQuerier(ctx).ExecContext(ctx, "DELETE FROM sync_cycles")
//		return err
//	})
package sqlite
