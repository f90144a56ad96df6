package events

import "time"

// RetryPolicy drives the in-process redelivery of a message after a
// transient failure. The same message is redriven, never a copy.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy matches the consumer contract: three attempts, one
// second initial delay, doubling, capped at ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = time.Second
	}
	if out.Multiplier < 1 {
		out.Multiplier = 2
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 10 * time.Second
	}
	return out
}

// Backoff returns the delay before the given attempt. Attempts are 1-based;
// the first retry waits InitialBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
