package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet smooths request bursts per API key ahead of quota accounting.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limiters: make(map[string]*keyLimiter),
		rps:      limit,
		burst:    burst,
		ttl:      time.Hour,
		now:      time.Now,
	}
}

// Allow reports whether key may make a request now.
func (s *limiterSet) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	kl, ok := s.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.limiters[key] = kl
	}
	kl.lastAccess = now
	return kl.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than the TTL.
func (s *limiterSet) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for k, kl := range s.limiters {
		if kl.lastAccess.Before(cutoff) {
			delete(s.limiters, k)
			n++
		}
	}
	return n
}

func (s *limiterSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
