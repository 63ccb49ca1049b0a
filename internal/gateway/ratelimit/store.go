package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptyKey is returned when a bucket is requested for an empty identity
var ErrEmptyKey = errors.New("rate limit key cannot be empty")

// BucketStore maps a rate-limit identity to its bucket
type BucketStore interface {
	// GetOrCreate returns the bucket for key, creating a full one on first use.
	// Concurrent first calls for the same key observe the same bucket.
	GetOrCreate(key string) (*TokenBucket, error)
}

// MemoryStore is a process-local BucketStore.
// Buckets for different keys never share a lock.
type MemoryStore struct {
	policy  Policy
	clock   Clock
	idleTTL time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
	mu       sync.Mutex // Protects lastSeen
}

// StoreOption configures a MemoryStore
type StoreOption func(*MemoryStore)

// WithClock replaces the wall clock for the store and every bucket it creates
func WithClock(clock Clock) StoreOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIdleTTL enables eviction of buckets not used for d. Zero keeps every bucket forever.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

// NewMemoryStore creates an empty store that builds buckets from policy
func NewMemoryStore(policy Policy, opts ...StoreOption) (*MemoryStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s := &MemoryStore{
		policy:  policy,
		clock:   time.Now,
		buckets: make(map[string]*bucketEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetOrCreate implements BucketStore
func (s *MemoryStore) GetOrCreate(key string) (*TokenBucket, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	now := s.clock()

	// Fast path - bucket exists
	s.mu.RLock()
	entry, exists := s.buckets[key]
	s.mu.RUnlock()
	if exists {
		entry.touch(now)
		return entry.bucket, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have created it
	if entry, exists = s.buckets[key]; exists {
		entry.touch(now)
		return entry.bucket, nil
	}

	bucket, err := NewTokenBucket(s.policy, s.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	s.buckets[key] = &bucketEntry{bucket: bucket, lastSeen: now}
	return bucket, nil
}

// Peek returns the bucket for key without creating one
func (s *MemoryStore) Peek(key string) (*TokenBucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.buckets[key]
	if !ok {
		return nil, false
	}
	return entry.bucket, true
}

// Count returns the number of buckets held
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// Policy returns the policy new buckets are built with
func (s *MemoryStore) Policy() Policy {
	return s.policy
}

// Cleanup removes buckets idle for longer than the configured TTL.
// Returns the number of buckets removed.
func (s *MemoryStore) Cleanup() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.clock().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.buckets {
		entry.mu.Lock()
		lastSeen := entry.lastSeen
		entry.mu.Unlock()

		if lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Cleanup every interval until ctx is done.
// It does nothing when eviction is disabled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

func (e *bucketEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}
