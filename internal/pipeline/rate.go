package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateStage is the in-pipeline per-client limiter, separate from the
// HTTP middleware limiter: it meters chat requests specifically, keyed
// by user id or guest fingerprint.
type RateStage struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateStage allows perMinute chat requests per client with the given
// burst. A background sweep evicts idle clients.
func NewRateStage(perMinute, burst int) *RateStage {
	s := &RateStage{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
	go s.sweep()
	return s
}

// Allow consumes one token for the client.
func (s *RateStage) Allow(clientKey string) bool {
	s.mu.Lock()
	cl, ok := s.limiters[clientKey]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[clientKey] = cl
	}
	cl.lastSeen = time.Now()
	s.mu.Unlock()
	return cl.limiter.Allow()
}

func (s *RateStage) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-15 * time.Minute)
		s.mu.Lock()
		for key, cl := range s.limiters {
			if cl.lastSeen.Before(cutoff) {
				delete(s.limiters, key)
			}
		}
		s.mu.Unlock()
	}
}
