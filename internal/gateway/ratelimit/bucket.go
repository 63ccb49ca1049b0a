package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidCapacity is returned when bucket capacity is below one token
	ErrInvalidCapacity = errors.New("bucket capacity must be at least 1")

	// ErrInvalidRefill is returned when the refill amount or period is not positive
	ErrInvalidRefill = errors.New("refill tokens and refill period must be positive")
)

// Clock returns the current time. Tests substitute a controllable one.
type Clock func() time.Time

// Policy describes how a bucket is sized and refilled
type Policy struct {
	Capacity     int64         // Maximum tokens (burst size)
	RefillTokens int64         // Tokens added per elapsed period
	RefillPeriod time.Duration // Length of one refill interval
}

// Validate checks that the policy can build a bucket
func (p Policy) Validate() error {
	if p.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if p.RefillTokens < 1 || p.RefillPeriod <= 0 {
		return ErrInvalidRefill
	}
	return nil
}

// Result is the outcome of a consume attempt
type Result struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	RetryAfter time.Duration // Zero when Allowed
}

// TokenBucket is an integer token bucket refilled in whole intervals.
// Tokens are only added once a full RefillPeriod has elapsed, and never beyond capacity.
type TokenBucket struct {
	policy     Policy
	clock      Clock
	available  int64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket for the policy
func NewTokenBucket(policy Policy, clock Clock) (*TokenBucket, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}

	return &TokenBucket{
		policy:     policy,
		clock:      clock,
		available:  policy.Capacity,
		lastRefill: clock(),
	}, nil
}

// TryConsume takes n tokens if available. A denied attempt leaves the count unchanged.
func (b *TokenBucket) TryConsume(n int64) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.refill(now)

	if n > 0 && b.available >= n {
		b.available -= n
		return Result{Allowed: true, Remaining: b.available, Limit: b.policy.Capacity}
	}

	return Result{
		Allowed:    false,
		Remaining:  b.available,
		Limit:      b.policy.Capacity,
		RetryAfter: b.untilNextRefill(now),
	}
}

// Available returns the current token count after applying any due refill
func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock())
	return b.available
}

// Capacity returns the maximum number of tokens
func (b *TokenBucket) Capacity() int64 {
	return b.policy.Capacity
}

// refill adds RefillTokens for every whole period since lastRefill.
// MUST be called with b.mu locked.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.policy.RefillPeriod {
		return
	}

	periods := int64(elapsed / b.policy.RefillPeriod)
	b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.policy.RefillPeriod)

	// Compare in periods first so periods*RefillTokens cannot overflow
	missing := b.policy.Capacity - b.available
	needed := (missing + b.policy.RefillTokens - 1) / b.policy.RefillTokens
	if periods >= needed {
		b.available = b.policy.Capacity
		return
	}
	b.available += periods * b.policy.RefillTokens
}

// MUST be called with b.mu locked, after refill.
func (b *TokenBucket) untilNextRefill(now time.Time) time.Duration {
	wait := b.lastRefill.Add(b.policy.RefillPeriod).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
