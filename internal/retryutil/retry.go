package retryutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 10 * time.Second
)

type Policy struct {
	Attempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// Sleep replaces the context-aware timer wait; tests use it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.Sleep == nil {
		p.Sleep = SleepWithContext
	}
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a permanent error, or the attempts
// run out. The returned int is the number of attempts made.
func Do(ctx context.Context, logger *slog.Logger, name string, policy Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	if fn == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 && logger != nil {
				logger.Info(name+"_retry_ok", "attempt", attempt)
			}
			return attempt, nil
		}
		lastErr = err
		if IsPermanent(err) {
			return attempt, &ExhaustedError{Name: name, Attempts: attempt, Err: err}
		}
		if attempt == policy.Attempts {
			break
		}
		if logger != nil {
			logger.Warn(name+"_retry_scheduled",
				"attempt", attempt,
				"max_attempts", policy.Attempts,
				"delay", policy.Backoff.String(),
				"error", err.Error(),
			)
		}
		if err := policy.Sleep(ctx, policy.Backoff); err != nil {
			return attempt, &ExhaustedError{Name: name, Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	if logger != nil {
		logger.Error(name+"_retry_failed", "attempts", policy.Attempts, "error", lastErr.Error())
	}
	return policy.Attempts, &ExhaustedError{Name: name, Attempts: policy.Attempts, Err: lastErr}
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
