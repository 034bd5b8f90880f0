package ratelimit

import (
	"context"
	"time"
)

// Login throttle thresholds: 5 failures per minute and 20 per hour for a
// given (origin, identity) pair.
const (
	loginMinuteLimit = 5
	loginHourLimit   = 20
)

// LoginThrottle slows credential guessing on the interactive login path.
// It is keyed by the pair (network origin, claimed identity), so guessing
// one identity's password from an origin does not penalize other identities
// behind the same shared egress point, and vice versa. Its counters live in
// a namespace entirely separate from the request limiter.
type LoginThrottle struct {
	counters *counterMap
	now      func() time.Time
}

// NewLoginThrottle creates an empty throttle. Call Start to enable the
// background sweep.
func NewLoginThrottle() *LoginThrottle {
	return &LoginThrottle{
		counters: newCounterMap(),
		now:      time.Now,
	}
}

// Start launches the background counter sweep, stopping when ctx is
// cancelled.
func (t *LoginThrottle) Start(ctx context.Context) {
	go t.counters.runSweeper(ctx, t.now)
}

func loginSubject(origin, identity string) string {
	return origin + "\x00" + identity
}

// CheckBeforeAttempt reports whether a login attempt for the identity from
// the origin may proceed. It never increments; failures are recorded
// separately via RecordFailure after the credential check. On denial the
// returned duration is the wait until the nearest violated window resets.
func (t *LoginThrottle) CheckBeforeAttempt(origin, identity string) (bool, time.Duration) {
	now := t.now()
	subject := loginSubject(origin, identity)

	checks := []struct {
		window time.Duration
		limit  int
	}{
		{time.Minute, loginMinuteLimit},
		{time.Hour, loginHourLimit},
	}

	for _, c := range checks {
		count, reset := t.counters.peek(subject, c.window, now)
		if count >= c.limit {
			return false, retryAfter(reset, now)
		}
	}
	return true, 0
}

// RecordFailure counts one failed credential check for the pair. It is
// called only on the login path after a failure, never for bearer-token
// requests, and never blocks a successful authentication.
func (t *LoginThrottle) RecordFailure(origin, identity string) {
	now := t.now()
	subject := loginSubject(origin, identity)
	t.counters.record(subject, time.Minute, now)
	t.counters.record(subject, time.Hour, now)
}

// Sweep removes expired counters immediately.
func (t *LoginThrottle) Sweep() int {
	return t.counters.sweep(t.now())
}
