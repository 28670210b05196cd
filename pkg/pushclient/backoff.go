package pushclient

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryPolicy yields min(base*2^attempt, max) with no jitter, so delays are
// non-decreasing and bounded.
type retryPolicy struct {
	b           *backoff.ExponentialBackOff
	maxAttempts int
	attempt     int
}

func newRetryPolicy(base, maxDelay time.Duration, maxAttempts int) *retryPolicy {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return &retryPolicy{b: b, maxAttempts: maxAttempts}
}

// next returns the delay before the following attempt, or false once the
// budget is spent. A zero maxAttempts retries forever.
func (p *retryPolicy) next() (time.Duration, bool) {
	if p.maxAttempts > 0 && p.attempt >= p.maxAttempts {
		return 0, false
	}
	p.attempt++
	return p.b.NextBackOff(), true
}

func (p *retryPolicy) reset() {
	p.attempt = 0
	p.b.Reset()
}
