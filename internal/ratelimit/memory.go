package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// StaleAfter is how long an idle key keeps its bucket.
const StaleAfter = 10 * time.Minute

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// idle for StaleAfter are evicted.
type MemoryLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *cache.Cache
}

// NewMemoryLimiter creates a limiter allowing rps sustained requests per
// second per key with bursts of up to burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: cache.New(StaleAfter, time.Minute),
	}
}

// Allow consumes one token from the bucket for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return m.bucket(key).Allow(), nil
}

func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.buckets.Get(key); ok {
		l := v.(*rate.Limiter)
		m.buckets.SetDefault(key, l)
		return l
	}
	l := rate.NewLimiter(m.limit, m.burst)
	m.buckets.SetDefault(key, l)
	return l
}

// Len reports how many keys currently hold a bucket.
func (m *MemoryLimiter) Len() int {
	return m.buckets.ItemCount()
}

// Close drops every bucket.
func (m *MemoryLimiter) Close() error {
	m.buckets.Flush()
	return nil
}
