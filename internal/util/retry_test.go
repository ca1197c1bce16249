package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsWhenFnSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), time.Second, func() (bool, error) {
		calls++
		if calls < 2 {
			return true, errors.New("not yet")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryReturnsLastErrorAfterTimeout(t *testing.T) {
	boom := errors.New("boom")
	err := Retry(context.Background(), 10*time.Millisecond, func() (bool, error) { return true, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Retry(ctx, time.Minute, func() (bool, error) { return true, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("retry ignored cancellation")
	}
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := jitter(400 * time.Millisecond)
		if d < 200*time.Millisecond || d >= 400*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
