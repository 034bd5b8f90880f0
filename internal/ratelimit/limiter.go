package ratelimit

import (
	"context"
	"time"

	"github.com/tasklane/tasklane/internal/model"
)

// The three request windows, evaluated in ascending order so the cheapest
// window to recover from is reported first on denial.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Remaining holds per-window remaining request counts after an admission,
// surfaced to clients as X-RateLimit-Remaining-* headers.
type Remaining struct {
	Minute int
	Hour   int
	Day    int
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Window     string        // violated window on denial: "minute", "hour", or "day"
	RetryAfter time.Duration // whole seconds until the violated window resets
	Remaining  Remaining     // populated on admission
}

// Limiter admits or denies requests per subject across three overlapping
// fixed windows (60s, 3600s, 86400s). A request is denied if any window is
// exhausted. Windows are intentionally approximate fixed buckets, trading
// boundary bursts for O(1) memory per subject.
type Limiter struct {
	counters *counterMap
	now      func() time.Time
}

// NewLimiter creates an empty limiter. Call Start to enable the background
// sweep of expired counters.
func NewLimiter() *Limiter {
	return &Limiter{
		counters: newCounterMap(),
		now:      time.Now,
	}
}

// Start launches the background counter sweep. It returns immediately; the
// sweep stops when ctx is cancelled.
func (l *Limiter) Start(ctx context.Context) {
	go l.counters.runSweeper(ctx, l.now)
}

// Admit records one request for the subject and decides admission against
// the tier thresholds. Windows are checked smallest first; a violated
// window denies immediately, leaving already-counted smaller windows
// consumed — an admitted request that later fails downstream still spends
// quota, matching real resource consumption.
func (l *Limiter) Admit(subject string, limits model.TierLimits) Decision {
	now := l.now()

	checks := []struct {
		name   string
		window time.Duration
		limit  int
	}{
		{WindowMinute, time.Minute, limits.PerMinute},
		{WindowHour, time.Hour, limits.PerHour},
		{WindowDay, 24 * time.Hour, limits.PerDay},
	}

	var rem [3]int
	for i, c := range checks {
		ok, count, reset := l.counters.hit(subject, c.window, c.limit, now)
		if !ok {
			return Decision{
				Allowed:    false,
				Window:     c.name,
				RetryAfter: retryAfter(reset, now),
			}
		}
		rem[i] = c.limit - count
		if rem[i] < 0 {
			rem[i] = 0
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: Remaining{Minute: rem[0], Hour: rem[1], Day: rem[2]},
	}
}

// Sweep removes expired counters immediately and reports how many were
// deleted. The background sweeper calls this on a timer; it is exported for
// operational endpoints and tests.
func (l *Limiter) Sweep() int {
	return l.counters.sweep(l.now())
}

// ActiveCounters reports the number of live counters.
func (l *Limiter) ActiveCounters() int {
	return l.counters.size()
}
