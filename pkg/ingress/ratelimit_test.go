package ingress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	r := newRateLimiter(2, 5, time.Hour)

	ok, promote := r.Allow("1.1.1.1", "alice")
	assert.True(t, ok)
	assert.False(t, promote)
	ok, _ = r.Allow("1.1.1.1", "alice")
	assert.True(t, ok)

	ok, promote = r.Allow("1.1.1.1", "alice")
	assert.False(t, ok)
	assert.False(t, promote)

	// A different caller has its own bucket.
	ok, _ = r.Allow("1.1.1.1", "bob")
	assert.True(t, ok)
}

func TestRateLimiterPromotesAfterViolationBudget(t *testing.T) {
	r := newRateLimiter(1, 3, time.Hour)
	_, _ = r.Allow("2.2.2.2", "u")

	for i := 0; i < 2; i++ {
		ok, promote := r.Allow("2.2.2.2", "u")
		assert.False(t, ok)
		assert.False(t, promote)
	}
	ok, promote := r.Allow("2.2.2.2", "u")
	assert.False(t, ok)
	assert.True(t, promote)
}

func TestRateLimiterViolationWindowExpires(t *testing.T) {
	r := newRateLimiter(1, 2, time.Hour)
	now := time.Now()
	r.now = func() time.Time { return now }
	_, _ = r.Allow("3.3.3.3", "u")

	_, promote := r.Allow("3.3.3.3", "u")
	assert.False(t, promote)

	// Old violations age out of the window.
	now = now.Add(2 * time.Hour)
	_, promote = r.Allow("3.3.3.3", "u")
	assert.False(t, promote)
}

func TestBlocklist(t *testing.T) {
	b := newBlocklist([]string{"10.0.0.1"})
	assert.True(t, b.Blocked("10.0.0.1"))
	assert.False(t, b.Blocked("10.0.0.2", ""))

	b.Block("10.0.0.2")
	assert.True(t, b.Blocked("10.0.0.2"))

	// Dynamic entries expire, static ones do not.
	b.now = func() time.Time { return time.Now().Add(autoBlockFor + time.Minute) }
	assert.False(t, b.Blocked("10.0.0.2"))
	assert.True(t, b.Blocked("10.0.0.1"))
}
