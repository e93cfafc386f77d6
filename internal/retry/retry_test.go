package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	cfg := Config{Attempts: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Jitter: false}
	calls := 0
	err := Do(context.Background(), cfg, zerolog.Nop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("boom"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoFailsFastOnNonTransient(t *testing.T) {
	cfg := DefaultConfig()
	calls := 0
	sentinel := errors.New("fatal 400")
	err := Do(context.Background(), cfg, zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error returned as-is, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a fatal error, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cfg := Config{Attempts: 2, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("still broken"))
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := Config{Attempts: 5, MinWait: 50 * time.Millisecond, MaxWait: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("retryable"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
