package retryutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	attempts, err := Do(context.Background(), nil, "send", Policy{Attempts: 3, Backoff: 10 * time.Second, Sleep: noSleep(&waits)}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("attempts mismatch: got %d calls %d want 3", attempts, calls)
	}
	if len(waits) != 2 || waits[0] != 10*time.Second || waits[1] != 10*time.Second {
		t.Fatalf("waits mismatch: got %v", waits)
	}
}

func TestDoExhausts(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	sentinel := errors.New("down")
	attempts, err := Do(context.Background(), nil, "notify", Policy{Attempts: 3, Backoff: 15 * time.Second, Sleep: noSleep(&waits)}, func(ctx context.Context, attempt int) error {
		return sentinel
	})
	if attempts != 3 {
		t.Fatalf("attempts mismatch: got %d want 3", attempts)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("error mismatch: %v", err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("error should wrap sentinel: %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("waits mismatch: got %v", waits)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	attempts, err := Do(context.Background(), nil, "send", Policy{Attempts: 3, Sleep: noSleep(&waits)}, func(ctx context.Context, attempt int) error {
		return Permanent(errors.New("no token"))
	})
	if attempts != 1 || len(waits) != 0 {
		t.Fatalf("permanent error retried: attempts=%d waits=%v", attempts, waits)
	}
	if !IsPermanent(err) {
		t.Fatalf("IsPermanent() mismatch for %v", err)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := Do(ctx, nil, "send", Policy{Attempts: 3, Backoff: time.Hour}, func(ctx context.Context, attempt int) error {
		return errors.New("down")
	})
	if attempts != 1 {
		t.Fatalf("attempts mismatch: got %d want 1", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error should carry context.Canceled: %v", err)
	}
}
