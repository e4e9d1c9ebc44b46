package quota

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Fingerprint derives the anonymous client identity from request
// attributes. It is a grouping key for the demo window, not an
// authentication token.
func Fingerprint(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// First hop only.
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	h := sha256.Sum256([]byte(ip + "\x00" + r.UserAgent() + "\x00" + r.Header.Get("Accept-Language")))
	return hex.EncodeToString(h[:16])
}

type guestBucket struct {
	stamps []time.Time
}

// GuestGate admits a bounded number of anonymous messages per client
// fingerprint per window. Consumption happens only after a request has
// successfully streamed; stale stamps are evicted lazily on access.
type GuestGate struct {
	mu      sync.Mutex
	buckets map[string]*guestBucket
	limit   int
	window  time.Duration

	now func() time.Time
}

// GuestStatus is the gate's answer for one fingerprint.
type GuestStatus struct {
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// NewGuestGate creates the gate. limit counts delivered messages per
// fingerprint per window.
func NewGuestGate(limit int, window time.Duration) *GuestGate {
	return &GuestGate{
		buckets: make(map[string]*guestBucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Check reports whether the fingerprint may send another message. It
// does not consume.
func (g *GuestGate) Check(fingerprint string) GuestStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.evictLocked(fingerprint)

	used := len(b.stamps)
	status := GuestStatus{
		Used:      used,
		Limit:     g.limit,
		Remaining: max(g.limit-used, 0),
		Allowed:   used < g.limit,
	}
	if used > 0 {
		status.ResetAt = b.stamps[0].Add(g.window)
	}
	return status
}

// Consume records one delivered message and returns the updated status.
func (g *GuestGate) Consume(fingerprint string) GuestStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.evictLocked(fingerprint)
	b.stamps = append(b.stamps, g.now())
	g.buckets[fingerprint] = b

	used := len(b.stamps)
	return GuestStatus{
		Used:      used,
		Limit:     g.limit,
		Remaining: max(g.limit-used, 0),
		Allowed:   used < g.limit,
		ResetAt:   b.stamps[0].Add(g.window),
	}
}

// evictLocked drops expired stamps and removes the bucket from the map
// when nothing remains, so Check-only probes never grow it. The caller
// re-inserts the returned bucket only when it consumes.
func (g *GuestGate) evictLocked(fingerprint string) *guestBucket {
	b, ok := g.buckets[fingerprint]
	if !ok {
		return &guestBucket{}
	}
	cutoff := g.now().Add(-g.window)
	i := 0
	for i < len(b.stamps) && b.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = b.stamps[i:]
	}
	if len(b.stamps) == 0 {
		delete(g.buckets, fingerprint)
	}
	return b
}
