package dispatch

import "time"

// RetryPolicy computes backoff delays and the dead-letter cutoff. The
// transport increments retry_count exactly once per redelivery; the policy
// never mutates it.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential delay when positive. Recommended in
	// production; zero leaves the backoff uncapped.
	MaxBackoff time.Duration
}

// NextBackoff returns the delay before the next redelivery attempt:
// initial * 2^retryCount.
func (p RetryPolicy) NextBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	// Guard the shift; beyond 62 doublings the duration overflows anyway.
	if retryCount > 62 {
		retryCount = 62
	}
	delay := initial << uint(retryCount)
	if delay <= 0 {
		delay = 1<<63 - 1
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// ShouldDeadLetter reports whether a command has exhausted its retries.
// The threshold is inclusive: hitting MaxRetries routes to the DLQ.
func (p RetryPolicy) ShouldDeadLetter(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
