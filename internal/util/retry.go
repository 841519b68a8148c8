package util

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff runs fn up to maxRetries+1 times, sleeping 1s, 2s, 4s, ...
// between failed attempts. fn receives the zero-based attempt number so
// callers can vary behavior on retries. A cancelled context aborts the wait
// and surfaces ctx.Err().
func RetryWithBackoff(ctx context.Context, maxRetries int, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return fmt.Errorf("failed after %d retries: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
}
