package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// backoffBase is the delay before the first retry; it doubles per attempt.
const backoffBase = 500 * time.Millisecond

// PermanentError marks a publish failure that retrying cannot fix, such as
// a payload the receiver rejected. PublishWithRetry returns it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// PublishWithRetry runs send up to 1+retries times with exponential backoff
// between attempts. Backoff starts at 500ms and doubles per retry. A send
// error wrapped in PermanentError stops the loop at once; context
// cancellation aborts between attempts and during backoff.
func PublishWithRetry(ctx context.Context, retries int, send func(context.Context) error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(time.Duration(1<<uint(i-1)) * backoffBase):
			}
		}
		lastErr = send(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
