package worker

import (
	"math"
	"time"
)

// RetryPolicy is the exponential backoff applied to failed manual runs.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = 30 * time.Second
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 10 * time.Minute
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = 2
	}
	return p
}

// Exhausted reports whether a request that already failed retries times
// goes to the dead letter instead of the queue.
func (p RetryPolicy) Exhausted(retries int) bool {
	return retries >= p.MaxRetries
}

// NextDelay returns the wait before the given retry (1-based), capped at
// MaxDelay.
func (p RetryPolicy) NextDelay(retry int) time.Duration {
	base := p.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	if retry < 1 {
		retry = 1
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(retry-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		return p.MaxDelay
	}
	if d <= 0 {
		return base
	}
	return d
}
