package pg

import (
	"context"
	"fmt"
	"time"
)

// HealthCheck выполняет SELECT 1 через q с таймаутом.
func HealthCheck(ctx context.Context, q Querier, timeout time.Duration) error {
	if q == nil {
		return fmt.Errorf("querier is nil")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result int
	if err := q.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}
	return nil
}
