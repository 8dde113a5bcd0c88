package events

import (
	"sync"
	"time"
)

// RateLimiter caps delivery attempts per subscription with one token
// bucket per subscription ID.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillPeriod time.Duration
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per period for
// each subscription.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period,
	}
}

// Allow reports whether a delivery to the subscription may proceed now.
func (rl *RateLimiter) Allow(subscriptionID string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets[subscriptionID]
	if !ok {
		bucket = &tokenBucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   time.Now(),
		}
		rl.buckets[subscriptionID] = bucket
	}
	rl.mu.Unlock()

	return bucket.take()
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// refill adds one token per elapsed period. Caller holds the bucket lock.
func (tb *tokenBucket) refill() {
	elapsed := time.Since(tb.lastRefill)
	if elapsed < tb.refillPeriod {
		return
	}
	periods := int(elapsed / tb.refillPeriod)
	tb.tokens = min(tb.tokens+periods, tb.maxTokens)
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}

// Remaining returns the current token count for a subscription.
func (rl *RateLimiter) Remaining(subscriptionID string) int {
	rl.mu.Lock()
	bucket, ok := rl.buckets[subscriptionID]
	rl.mu.Unlock()
	if !ok {
		return rl.maxTokens
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.refill()
	return bucket.tokens
}

// Reset clears the bucket for a subscription.
func (rl *RateLimiter) Reset(subscriptionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, subscriptionID)
}
