// Package retry implements the declarative retry envelope that wraps any
// callable contacting the Cached LLM Oracle with exponential backoff and
// jitter, retrying only transient failure classes.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"mnemo/internal/mnemoerr"
)

// Config mirrors the shape of a classic resilience retry policy: bounded
// attempts, exponential backoff between a floor and a ceiling, and optional
// jitter to avoid synchronized retries across callers.
type Config struct {
	Attempts int
	MinWait  time.Duration
	MaxWait  time.Duration
	Jitter   bool
}

// DefaultConfig matches spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{Attempts: 3, MinWait: time.Second, MaxWait: 30 * time.Second, Jitter: true}
}

// TransientError marks an error class the envelope is allowed to retry
// (connection failures, timeouts, 5xx-equivalent server errors). Anything
// else — including 4xx-equivalent client errors — is treated as fatal and
// returned immediately on the first attempt.
type TransientError struct {
	Cause error
}

func (t *TransientError) Error() string { return t.Cause.Error() }
func (t *TransientError) Unwrap() error { return t.Cause }

// Transient wraps err so the envelope treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

func isTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do executes fn up to cfg.Attempts times. Each attempt's error is logged
// with the attempt index and a short summary only — never the request
// payload, per the logging rules. A non-transient error returns immediately
// without consuming further attempts.
func Do(ctx context.Context, cfg Config, log zerolog.Logger, fn func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	wait := cfg.MinWait
	if wait <= 0 {
		wait = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
		log.Warn().Int("attempt", attempt).Int("max_attempts", cfg.Attempts).Str("summary", summarize(err)).Msg("retry_envelope_attempt_failed")

		if attempt == cfg.Attempts {
			break
		}

		delay := backoffDelay(wait, attempt, cfg.MaxWait, cfg.Jitter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return mnemoerr.Wrap(mnemoerr.LLMGeneration, "retry attempts exhausted", lastErr, map[string]any{"attempts": cfg.Attempts})
}

func backoffDelay(minWait time.Duration, attempt int, maxWait time.Duration, jitter bool) time.Duration {
	d := time.Duration(float64(minWait) * math.Pow(2, float64(attempt-1)))
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	if jitter {
		j := time.Duration(rand.Int63n(int64(d)/4 + 1))
		d += j
	}
	return d
}

// summarize produces a short, payload-free description of an error for logs.
func summarize(err error) string {
	s := err.Error()
	const limit = 160
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
