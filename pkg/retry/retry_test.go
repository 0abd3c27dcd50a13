package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	r := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	r := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond, RetryableErrors: []string{"timeout"}})

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("request timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	r := New(Config{MaxRetries: 3, BaseDelay: time.Millisecond, RetryableErrors: []string{"timeout"}})

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("invalid request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retries for permanent error, got %d calls", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	r := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, RetryableErrors: []string{"timeout"}})

	calls := 0
	sentinel := errors.New("timeout talking upstream")
	err := r.Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	r := New(Config{MaxRetries: 5, BaseDelay: time.Second, RetryableErrors: []string{"timeout"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func() error {
		return errors.New("timeout")
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
