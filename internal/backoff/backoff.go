// Package backoff implements the exponential retry policy shared by the
// download, upload and permission paths.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBase     = 30 * time.Second
	DefaultMax      = 300 * time.Second
	DefaultAttempts = 10

	jitterFraction = 0.2
)

// Policy describes a bounded exponential backoff with additive jitter.
// Delay for attempt n (0-based) is min(Max, Base*2^n) plus a uniform
// random value in [0, 0.2*exp).
type Policy struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// Default returns the policy used when no overrides are configured.
func Default() Policy {
	return Policy{
		Base:     DefaultBase,
		Max:      DefaultMax,
		Attempts: DefaultAttempts,
	}
}

// Delay computes the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	exp := float64(base) * math.Pow(2, float64(attempt))
	capped := min(float64(ceiling), exp)
	jitter := rand.Float64() * jitterFraction * exp
	return time.Duration(capped + jitter)
}

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the non-retriable marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry runs fn until it succeeds, returns a permanent error, the
// attempt budget is exhausted, or ctx is cancelled. The label shows up
// in the retry log lines.
func (p Policy) Retry(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			slog.Error("retry: permanent failure", "label", label, "attempt", attempt+1, "error", pe.err)
			return pe.err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		slog.Warn("retry: attempt failed", "label", label, "attempt", attempt+1, "max", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", label, attempts, lastErr)
}
