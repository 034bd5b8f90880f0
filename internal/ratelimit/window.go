// Package ratelimit implements process-local fixed-window rate limiting for
// the API gateway: a per-credential request limiter across three window
// lengths, and a separate throttle for failed login attempts.
//
// Counters live in an in-process sharded map. Each instance of the service
// enforces its own view of the limits; deployments needing cross-instance
// accuracy must front this with a shared counter store.
package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// sweepInterval is how often expired counters are garbage collected.
const sweepInterval = 5 * time.Minute

// counterShards bounds lock contention; counters for different subjects
// land on different shards.
const counterShards = 32

// counter is one fixed-window counter. It is valid until reset; after that
// the next observation starts a fresh window with count 1.
type counter struct {
	count int
	reset time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[string]*counter
}

// counterMap is a sharded set of fixed-window counters keyed by
// (subject, window length). No I/O happens while a shard lock is held.
type counterMap struct {
	shards [counterShards]shard
}

func newCounterMap() *counterMap {
	cm := &counterMap{}
	for i := range cm.shards {
		cm.shards[i].m = make(map[string]*counter)
	}
	return cm
}

func counterKey(subject string, window time.Duration) string {
	return fmt.Sprintf("%s|%d", subject, int64(window/time.Second))
}

func (cm *counterMap) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &cm.shards[h.Sum32()%counterShards]
}

// hit applies the fixed-window admission rule: a stale counter restarts at
// count 1; a counter at or above limit denies without incrementing;
// otherwise the counter is incremented. Returns whether the observation was
// admitted, the count after the call, and the window's reset instant.
func (cm *counterMap) hit(subject string, window time.Duration, limit int, now time.Time) (bool, int, time.Time) {
	key := counterKey(subject, window)
	sh := cm.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.m[key]
	if !ok || !now.Before(c.reset) {
		c = &counter{count: 1, reset: now.Add(window)}
		sh.m[key] = c
		return true, 1, c.reset
	}
	if c.count >= limit {
		return false, c.count, c.reset
	}
	c.count++
	return true, c.count, c.reset
}

// record increments a counter unconditionally, restarting stale windows.
func (cm *counterMap) record(subject string, window time.Duration, now time.Time) {
	key := counterKey(subject, window)
	sh := cm.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.m[key]
	if !ok || !now.Before(c.reset) {
		sh.m[key] = &counter{count: 1, reset: now.Add(window)}
		return
	}
	c.count++
}

// peek reads a counter without mutating it. Stale or absent counters read
// as zero.
func (cm *counterMap) peek(subject string, window time.Duration, now time.Time) (int, time.Time) {
	key := counterKey(subject, window)
	sh := cm.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.m[key]
	if !ok || !now.Before(c.reset) {
		return 0, time.Time{}
	}
	return c.count, c.reset
}

// sweep deletes every counter whose reset instant has passed, bounding
// memory to active subjects.
func (cm *counterMap) sweep(now time.Time) int {
	removed := 0
	for i := range cm.shards {
		sh := &cm.shards[i]
		sh.mu.Lock()
		for key, c := range sh.m {
			if !now.Before(c.reset) {
				delete(sh.m, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// size returns the number of live counters, for observability and tests.
func (cm *counterMap) size() int {
	n := 0
	for i := range cm.shards {
		sh := &cm.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// runSweeper garbage collects expired counters until ctx is cancelled.
func (cm *counterMap) runSweeper(ctx context.Context, now func() time.Time) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.sweep(now())
		}
	}
}

// retryAfter converts a reset instant into whole seconds for the
// Retry-After header, rounding up so clients never retry early.
func retryAfter(reset time.Time, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
