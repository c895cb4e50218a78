// Package retry provides retry logic with exponential backoff and jitter.
//
// Key Features:
//   - Multiple jitter strategies (None, Equal, Decorrelated, Additive)
//   - Configurable time and attempt limits, optional exponent ceiling
//   - Rich network error detection
//   - Observability hooks (OnRetry callback)
//   - Open-ended Backoff for supervisors that retry forever
//   - Cancellable Sleep
//   - Full testability support (time abstraction)
//
// Bounded retries:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return someNetworkOperation()
//	})
//
// Reconnect loops:
//
//	b, err := retry.NewBackoff(retry.ReconnectConfig(2 * time.Minute))
//	...
//	if err := retry.Sleep(ctx, b.Delay(attempt)); err != nil {
//	    return // canceled
//	}
//
// For HTTP-specific retry logic, consider using internal/platform/httpclient
// which provides HTTP status code awareness and Retry-After header support.
package retry
