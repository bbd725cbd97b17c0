package dispatch

import (
	"testing"
	"time"
)

func TestRetryPolicy_NextBackoffDoubles(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialBackoff: time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for retry, expected := range want {
		if got := policy.NextBackoff(retry); got != expected {
			t.Fatalf("retry %d: expected %s, got %s", retry, expected, got)
		}
	}
}

func TestRetryPolicy_NextBackoffNegativeRetry(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: time.Second}
	if got := policy.NextBackoff(-3); got != time.Second {
		t.Fatalf("expected 1s for negative retry count, got %s", got)
	}
}

func TestRetryPolicy_NextBackoffCapped(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	if got := policy.NextBackoff(10); got != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %s", got)
	}
}

func TestRetryPolicy_NextBackoffHugeRetryDoesNotOverflow(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: time.Second}
	if got := policy.NextBackoff(500); got <= 0 {
		t.Fatalf("expected positive delay for huge retry count, got %s", got)
	}
}

func TestRetryPolicy_ShouldDeadLetter(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialBackoff: time.Second}
	for retry := 0; retry < 5; retry++ {
		if policy.ShouldDeadLetter(retry) {
			t.Fatalf("retry %d: should not dead-letter yet", retry)
		}
	}
	if !policy.ShouldDeadLetter(5) {
		t.Fatal("retry 5: expected dead-letter")
	}
	if !policy.ShouldDeadLetter(6) {
		t.Fatal("retry 6: expected dead-letter")
	}
}
