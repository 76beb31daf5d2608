package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wayy-Research/wrdata/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func fastConfig() Config {
	return Config{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          1.5,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
	}
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Execute(context.Background(), fastConfig(), testLogger(t), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad credentials")
	err := Execute(context.Background(), fastConfig(), testLogger(t), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestExecuteHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Execute(ctx, fastConfig(), testLogger(t), func(ctx context.Context) error {
		return errors.New("always failing")
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
}

func TestExecuteGivesUpAfterMaxElapsed(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxElapsedTime = 20 * time.Millisecond
	start := time.Now()
	err := Execute(context.Background(), cfg, testLogger(t), func(ctx context.Context) error {
		return errors.New("still down")
	})
	if err == nil {
		t.Fatalf("expected give-up error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("gave up too late")
	}
}
