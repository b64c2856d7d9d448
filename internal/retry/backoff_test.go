package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected initial delay of 100ms, got %v", config.InitialDelay)
	}

	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected max delay of 30s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected multiplier of 2.0, got %v", config.Multiplier)
	}

	if config.MaxAttempts != 3 {
		t.Errorf("Expected max attempts of 3, got %d", config.MaxAttempts)
	}
}

func TestReconnectDelay_Schedule(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}

	for attempt, want := range expected {
		got := ReconnectDelay(attempt, base, max)
		if got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestReconnectDelay_NegativeAttempt(t *testing.T) {
	if got := ReconnectDelay(-3, time.Second, time.Minute); got != time.Second {
		t.Errorf("expected base delay for negative attempt, got %v", got)
	}
}

func TestReconnectDelay_HugeAttemptStaysCapped(t *testing.T) {
	if got := ReconnectDelay(4096, time.Second, time.Minute); got != time.Minute {
		t.Errorf("expected cap for huge attempt, got %v", got)
	}
}

func TestLinearBackoffConfig_Delays(t *testing.T) {
	b := NewBackoff(LinearBackoffConfig(time.Second, 60*time.Second, 100))

	cases := map[int]time.Duration{
		1:  1 * time.Second,
		2:  2 * time.Second,
		5:  5 * time.Second,
		60: 60 * time.Second,
		90: 60 * time.Second, // capped
	}

	for attempt, want := range cases {
		if got := b.GetNextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	if err := backoff.Retry(context.Background(), operation); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	if err := backoff.Retry(context.Background(), operation); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_ExhaustedAttempts(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	wantErr := errors.New("persistent error")
	operation := func() error {
		attempts++
		return wantErr
	}

	err := backoff.Retry(context.Background(), operation)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error %v, got %v", wantErr, err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_NonRetryablePredicate(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	attempts := 0
	fatal := errors.New("fatal error")
	operation := func() error {
		attempts++
		return fatal
	}

	err := backoff.RetryWithPredicate(context.Background(), operation, func(err error) bool {
		return false
	})

	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestBackoff_ContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       false,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	operation := func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("keep retrying")
	}

	err := backoff.Retry(ctx, operation)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBackoff_JitterStaysBounded(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for attempt := 1; attempt <= 5; attempt++ {
		for i := 0; i < 50; i++ {
			delay := backoff.GetNextDelay(attempt)
			if delay < 0 {
				t.Fatalf("attempt %d: negative delay %v", attempt, delay)
			}
			if delay > time.Second {
				t.Fatalf("attempt %d: delay %v above max", attempt, delay)
			}
		}
	}
}
