package httpdl

import "time"

// RetryPolicy decides whether and when a failed segment is started again.
// MaxRetries <= 0 retries forever. The n-th consecutive failure waits
// Backoff*2^(n-1), capped at MaxBackoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 10,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxRetries > 0 && failures > p.MaxRetries
}

func (p RetryPolicy) Delay(failures int) time.Duration {
	if p.Backoff <= 0 || failures <= 0 {
		return 0
	}
	shift := min(failures-1, 20)
	delay := p.Backoff * time.Duration(1<<uint(shift))
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}
