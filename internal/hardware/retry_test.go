package hardware

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryRecoversTransientFault(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("glitch: %w", ErrComm)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return ErrComm
	})
	if !errors.Is(err, ErrComm) {
		t.Fatalf("Retry = %v, want ErrComm", err)
	}
	if calls != retryAttempts {
		t.Errorf("calls = %d, want %d", calls, retryAttempts)
	}
}

func TestRetryDoesNotRetryFatalErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return ErrTravelLimit
	})
	if !errors.Is(err, ErrTravelLimit) {
		t.Fatalf("Retry = %v, want ErrTravelLimit", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-communication faults)", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, func() error {
		t.Error("op ran despite cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry = %v, want context.Canceled", err)
	}
}
