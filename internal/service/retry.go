package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded exponential schedule. Delay is a pure function of
// the attempt number so the schedule can be tested without waiting.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy gives 3 attempts spaced 1s, 2s (then 4s if MaxAttempts is raised).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Initial: time.Second, Multiplier: 2}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Schedule lists every wait the policy can produce.
func (p RetryPolicy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

// policyBackOff adapts RetryPolicy to backoff.BackOff.
type policyBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.Delay(b.attempt)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Retry runs op until it succeeds, returns a non-retryable error, the policy
// runs out of attempts or ctx is done. A nil timer uses real time. It returns
// the number of attempts made.
func (p RetryPolicy) Retry(
	ctx context.Context,
	timer backoff.Timer,
	retryable func(error) bool,
	op func(attempt int) error,
	notify backoff.Notify,
) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := op(attempts)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(&policyBackOff{policy: p}, ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	return attempts, err
}
