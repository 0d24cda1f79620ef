package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-submitter submission rate limiting
type RateLimiter struct {
	mu sync.Mutex

	limit rate.Limit
	burst int

	submitters map[string]*submitterBucket
	now        func() time.Time
}

type submitterBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute sustained submissions per submitter with
// bursts of up to burst. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		burst:      burst,
		submitters: make(map[string]*submitterBucket),
		now:        time.Now,
	}
	if perMinute > 0 {
		rl.limit = rate.Limit(float64(perMinute) / 60)
	}
	return rl
}

// CheckSubmissionRate reports ErrRateLimitExceeded when submitterID has
// used up its tokens
func (rl *RateLimiter) CheckSubmissionRate(submitterID string) error {
	if rl == nil || rl.limit == 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.submitters[submitterID]
	if !ok {
		b = &submitterBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.submitters[submitterID] = b
	}
	b.lastSeen = now

	if !b.limiter.AllowN(now, 1) {
		return ErrRateLimitExceeded
	}
	return nil
}

// Prune drops buckets idle for longer than idle. It returns how many were dropped.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	if rl == nil {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	pruned := 0
	for id, b := range rl.submitters {
		if b.lastSeen.Before(cutoff) {
			delete(rl.submitters, id)
			pruned++
		}
	}
	return pruned
}
