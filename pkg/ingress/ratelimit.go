package ingress

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// limiterIdleTTL evicts buckets for callers that have gone quiet.
const limiterIdleTTL = 10 * time.Minute

// rateLimiter keeps one token bucket per (source_ip, user_key) caller and
// tracks rejections per IP so repeat offenders can be promoted to the
// blocklist.
type rateLimiter struct {
	perMin          int
	violationLimit  int
	violationWindow time.Duration

	limiters *expirable.LRU[string, *rate.Limiter]

	mu         sync.Mutex
	violations map[string][]time.Time

	now func() time.Time
}

func newRateLimiter(perMin, violationLimit int, violationWindow time.Duration) *rateLimiter {
	if perMin <= 0 {
		perMin = 100
	}
	if violationLimit <= 0 {
		violationLimit = 5
	}
	if violationWindow <= 0 {
		violationWindow = time.Hour
	}
	return &rateLimiter{
		perMin:          perMin,
		violationLimit:  violationLimit,
		violationWindow: violationWindow,
		limiters:        expirable.NewLRU[string, *rate.Limiter](65536, nil, limiterIdleTTL),
		violations:      make(map[string][]time.Time),
		now:             time.Now,
	}
}

// Allow consumes one token for the caller. When the bucket is empty it
// records a violation against the IP and reports whether the violation
// budget is spent, in which case the caller should blocklist the IP.
func (r *rateLimiter) Allow(sourceIP, userKey string) (allowed, promote bool) {
	key := sourceIP + "\x00" + userKey
	lim, ok := r.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.perMin)/60.0), r.perMin)
		r.limiters.Add(key, lim)
	}
	if lim.Allow() {
		return true, false
	}
	return false, r.recordViolation(sourceIP)
}

func (r *rateLimiter) recordViolation(sourceIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-r.violationWindow)
	kept := r.violations[sourceIP][:0]
	for _, t := range r.violations[sourceIP] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.violations[sourceIP] = kept
	if len(kept) >= r.violationLimit {
		delete(r.violations, sourceIP)
		return true
	}
	return false
}
