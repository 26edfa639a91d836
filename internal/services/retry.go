package services

import (
	"context"
	"fmt"
	"log"
	"time"
)

// retry executes f with exponential backoff. Credential, scope and
// cancellation errors fail fast.
func retry(ctx context.Context, attempts int, sleep time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		log.Printf("[Retry] API error: %v. Retrying in %v...", err, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
