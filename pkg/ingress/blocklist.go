package ingress

import (
	"sync"
	"time"
)

// autoBlockFor is how long a rate-abusing IP stays blocked once promoted.
const autoBlockFor = 24 * time.Hour

// blocklist combines the static configured set (IPs and user keys, held
// forever) with dynamic entries promoted by the rate limiter, which expire.
type blocklist struct {
	static map[string]struct{}

	mu      sync.Mutex
	dynamic map[string]time.Time

	now func() time.Time
}

func newBlocklist(static []string) *blocklist {
	b := &blocklist{
		static:  make(map[string]struct{}, len(static)),
		dynamic: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, s := range static {
		b.static[s] = struct{}{}
	}
	return b
}

// Blocked reports whether any of the given keys is blocklisted. Expired
// dynamic entries are pruned as they are encountered.
func (b *blocklist) Blocked(keys ...string) bool {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := b.static[k]; ok {
			return true
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for _, k := range keys {
		until, ok := b.dynamic[k]
		if !ok {
			continue
		}
		if now.Before(until) {
			return true
		}
		delete(b.dynamic, k)
	}
	return false
}

// Block adds a dynamic entry.
func (b *blocklist) Block(key string) {
	if key == "" {
		return
	}
	b.mu.Lock()
	b.dynamic[key] = b.now().Add(autoBlockFor)
	b.mu.Unlock()
}
