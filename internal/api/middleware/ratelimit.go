package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter applies a token bucket per client IP. One instance guards
// the whole surface; a second, stricter one sits on /api/auth.
type IPLimiter struct {
	mu        sync.Mutex
	clients   map[string]*ipClient
	rate      rate.Limit
	burst     int
	lastSwept time.Time
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	return &IPLimiter{
		clients:   make(map[string]*ipClient),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		lastSwept: time.Now(),
	}
}

func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSwept) > 5*time.Minute {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) > 15*time.Minute {
				delete(l.clients, key)
			}
		}
		l.lastSwept = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &ipClient{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}

// Middleware rejects over-rate clients with 429 and a Retry-After.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
