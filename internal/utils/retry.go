package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryWithBackoff runs operation, retrying up to maxRetries times with
// exponential backoff between attempts. operationName is used for logging.
func RetryWithBackoff(ctx context.Context, operationName string, maxRetries int, initialBackoff time.Duration, maxBackoff time.Duration, operation func() error) error {
	if err := operation(); err == nil {
		return nil
	} else if maxRetries <= 0 {
		slog.Error("operation failed with no retries configured", "operation", operationName, "error", err)
		return fmt.Errorf("%s failed (no retries): %w", operationName, err)
	} else {
		slog.Debug("initial attempt failed, will retry", "operation", operationName, "error", err)
	}

	backoff := initialBackoff
	for i := 0; i < maxRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := operation(); err == nil {
			slog.Debug("operation successful after retry", "operation", operationName, "attempt", i+1)
			return nil
		} else {
			slog.Debug("retry attempt failed", "operation", operationName, "error", err, "attempt", i+1)
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	slog.Error("operation failed after all retries", "operation", operationName, "retries", maxRetries)
	return fmt.Errorf("%s failed after %d retries", operationName, maxRetries)
}
