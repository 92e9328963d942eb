// Package retry decides whether and how long to wait before re-attempting a
// failed upstream call. The policy is a pure function of the attempt number
// and the observed HTTP status or error kind.
package retry

import (
	"errors"
	"time"

	"server/internal/domain"
)

// Decision is the outcome of evaluating one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the zero decision.
var GiveUp = Decision{}

// Policy holds the retry configuration. The zero value retries nothing;
// construct via NewPolicy for defaults.
type Policy struct {
	MaxRetries       int
	WaitBase         time.Duration
	WaitMax          time.Duration
	TimeoutIncrement time.Duration
	retryableStatus  map[int]struct{}
}

// DefaultRetryableStatus is the set of transient HTTP statuses worth retrying.
var DefaultRetryableStatus = []int{429, 500, 502, 503, 504}

// NewPolicy builds a policy, falling back to defaults for unset fields.
func NewPolicy(maxRetries int, waitBase, waitMax, timeoutIncrement time.Duration, retryable []int) Policy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if waitBase <= 0 {
		waitBase = 500 * time.Millisecond
	}
	if waitMax <= 0 {
		waitMax = 8 * time.Second
	}
	if len(retryable) == 0 {
		retryable = DefaultRetryableStatus
	}
	set := make(map[int]struct{}, len(retryable))
	for _, code := range retryable {
		set[code] = struct{}{}
	}
	return Policy{
		MaxRetries:       maxRetries,
		WaitBase:         waitBase,
		WaitMax:          waitMax,
		TimeoutIncrement: timeoutIncrement,
		retryableStatus:  set,
	}
}

// Decide evaluates a failed attempt. attempt is zero-based: attempt 0 is the
// first call, so up to MaxRetries re-attempts follow it. A non-retryable
// error kind or 4xx status yields GiveUp regardless of attempt count.
func (p Policy) Decide(attempt int, statusCode int, err error) Decision {
	if attempt >= p.MaxRetries {
		return GiveUp
	}
	if statusCode != 0 {
		if _, ok := p.retryableStatus[statusCode]; ok {
			return Decision{Retry: true, Delay: p.Backoff(attempt)}
		}
		return GiveUp
	}
	if err != nil && transient(err) {
		return Decision{Retry: true, Delay: p.Backoff(attempt)}
	}
	return GiveUp
}

// Backoff computes the exponential delay for a zero-based attempt number:
// min(WaitMax, WaitBase * 2^attempt).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.WaitBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.WaitMax {
			return p.WaitMax
		}
	}
	if delay > p.WaitMax {
		return p.WaitMax
	}
	return delay
}

// CallTimeout widens the per-call deadline for later attempts so a retry is
// not starved by the budget that already failed once.
func (p Policy) CallTimeout(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || p.TimeoutIncrement <= 0 {
		return base
	}
	return base + time.Duration(attempt)*p.TimeoutIncrement
}

func transient(err error) bool {
	return errors.Is(err, domain.ErrUpstreamTimeout) || errors.Is(err, domain.ErrUpstreamUnavailable)
}
