package conn

import (
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy tracks consecutive connection failures and computes the delay
// before the next attempt: min(base * 2^attempt, ceiling). The counter
// resets on any successful open and freezes once the maximum is reached;
// from there only an explicit reconnect (manual or probe-triggered) thaws it.
type RetryPolicy struct {
	attempts    int
	maxAttempts int
	eb          *backoff.ExponentialBackOff
}

// NewRetryPolicy creates a policy that tolerates maxAttempts consecutive
// failures, waiting base, 2*base, 4*base, ... between attempts, capped at
// ceiling.
func NewRetryPolicy(maxAttempts int, base, ceiling time.Duration) *RetryPolicy {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = ceiling
	eb.Multiplier = 2
	// The schedule must be deterministic: min(base * 2^attempt, ceiling),
	// no jitter. The attempt cap bounds retries, so elapsed time never does.
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &RetryPolicy{
		maxAttempts: maxAttempts,
		eb:          eb,
	}
}

// RecordFailure counts one failed attempt. It returns the delay before the
// next attempt, or exhausted=true once the failure count has reached the
// maximum, at which point the counter freezes until Reset is called.
func (p *RetryPolicy) RecordFailure() (delay time.Duration, exhausted bool) {
	if p.attempts >= p.maxAttempts {
		// Already exhausted; the counter stays frozen.
		return 0, true
	}

	p.attempts++
	if p.attempts >= p.maxAttempts {
		return 0, true
	}
	return p.eb.NextBackOff(), false
}

// Reset clears the failure count and rewinds the backoff schedule.
// Called on every successful open and on explicit reconnects from Offline.
func (p *RetryPolicy) Reset() {
	p.attempts = 0
	p.eb.Reset()
}

// Attempts returns the current consecutive failure count.
func (p *RetryPolicy) Attempts() int {
	return p.attempts
}

// Exhausted reports whether the failure count has reached the maximum.
func (p *RetryPolicy) Exhausted() bool {
	return p.attempts >= p.maxAttempts
}
