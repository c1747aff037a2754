package git

import (
	"sync"
	"time"
)

// RateLimitState holds advisory upstream API quota counters. Nothing in the
// gateway gates work on it; it is kept for /health introspection.
type RateLimitState struct {
	mu         sync.RWMutex
	remaining  int
	resetEpoch int64
	updatedAt  time.Time
}

// RateLimitSnapshot is a copy of RateLimitState. Remaining is -1 until the
// first update.
type RateLimitSnapshot struct {
	Remaining  int       `json:"remaining"`
	ResetEpoch int64     `json:"resetEpoch"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

func newRateLimitState() RateLimitState {
	return RateLimitState{remaining: -1}
}

// RateLimit returns the current advisory counters
func (s *SourceCache) RateLimit() RateLimitSnapshot {
	s.rate.mu.RLock()
	defer s.rate.mu.RUnlock()
	return RateLimitSnapshot{
		Remaining:  s.rate.remaining,
		ResetEpoch: s.rate.resetEpoch,
		UpdatedAt:  s.rate.updatedAt,
	}
}

// UpdateRateLimit records counters reported by the upstream host
func (s *SourceCache) UpdateRateLimit(remaining int, resetEpoch int64) {
	s.rate.mu.Lock()
	defer s.rate.mu.Unlock()
	s.rate.remaining = remaining
	s.rate.resetEpoch = resetEpoch
	s.rate.updatedAt = time.Now().UTC()
}
