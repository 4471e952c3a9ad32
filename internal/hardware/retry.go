package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry policy for transient communication faults. Retries happen at this
// layer only; anything that escapes is fatal for the current run.
const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// Retry runs op, retrying ErrComm failures with doubling backoff up to
// retryAttempts times. Non-communication errors return immediately.
func Retry(ctx context.Context, op func() error) error {
	var err error
	backoff := retryBackoff
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = op(); err == nil {
			return nil
		}
		if !errors.Is(err, ErrComm) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("retry exhausted after %d attempts: %w", retryAttempts, err)
}
