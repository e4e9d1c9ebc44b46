package quota

import (
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	store, err := NewFileCounterStore(filepath.Join(t.TempDir(), "quota.json"))
	require.NoError(t, err)
	g := NewGate(store, time.Hour) // flush manually in tests
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestCheckDoesNotMutate(t *testing.T) {
	g := newTestGate(t)
	for i := 0; i < 10; i++ {
		res := g.Check("alice", models.TierFree, models.ActionChatDaily)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.Used)
	}
}

func TestRecordThenGate(t *testing.T) {
	g := newTestGate(t)
	limit := Limits[models.TierFree].ChatPerDay

	for i := int64(0); i < limit; i++ {
		res := g.Check("alice", models.TierFree, models.ActionChatDaily)
		require.True(t, res.Allowed, "request %d should pass", i)
		g.Record("alice", models.ActionChatDaily)
	}

	res := g.Check("alice", models.TierFree, models.ActionChatDaily)
	assert.False(t, res.Allowed)
	assert.Equal(t, limit, res.Used)
	assert.Equal(t, int64(0), res.Remaining)

	// Another user is unaffected.
	assert.True(t, g.Check("bob", models.TierFree, models.ActionChatDaily).Allowed)
}

func TestFlushIsUpsertAdd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quota.json")
	store, err := NewFileCounterStore(path)
	require.NoError(t, err)

	g := NewGate(store, time.Hour)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	key := g.key("alice", models.ActionChatDaily, base)

	for i := 0; i < 3; i++ {
		g.Record("alice", models.ActionChatDaily)
	}
	g.Flush()
	stored, _ := store.Get(key)
	assert.Equal(t, int64(3), stored)

	// More deltas on top of an existing stored count.
	for i := 0; i < 2; i++ {
		g.Record("alice", models.ActionChatDaily)
	}
	g.Flush()
	stored, _ = store.Get(key)
	assert.Equal(t, int64(5), stored, "post-flush count must be stored + delta")

	// The gate's view never changed across flushes.
	assert.Equal(t, int64(5), g.Check("alice", models.TierFree, models.ActionChatDaily).Used)
	require.NoError(t, g.Close())

	// Survives a process restart.
	store2, err := NewFileCounterStore(path)
	require.NoError(t, err)
	stored, _ = store2.Get(key)
	assert.Equal(t, int64(5), stored)
}

func TestZeroLimitActionsDenied(t *testing.T) {
	g := newTestGate(t)
	res := g.Check("alice", models.TierFree, models.ActionShellHourly)
	assert.False(t, res.Allowed, "free tier has no shell budget")
	assert.Equal(t, int64(0), res.Limit)
}

func TestConcurrencySlots(t *testing.T) {
	g := newTestGate(t)
	maxSlots := Limits[models.TierPro].MaxConcurrent

	for i := 0; i < maxSlots; i++ {
		require.True(t, g.Acquire("alice", models.TierPro))
	}
	assert.False(t, g.Acquire("alice", models.TierPro))
	assert.Equal(t, maxSlots, g.InFlight("alice"))

	g.Release("alice")
	assert.True(t, g.Acquire("alice", models.TierPro))

	// Releases never go negative.
	for i := 0; i < maxSlots+5; i++ {
		g.Release("alice")
	}
	assert.Equal(t, 0, g.InFlight("alice"))
}

func TestGuestWindow(t *testing.T) {
	gate := NewGuestGate(5, 24*time.Hour)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }

	for i := 1; i <= 5; i++ {
		require.True(t, gate.Check("fp-1").Allowed)
		status := gate.Consume("fp-1")
		assert.Equal(t, i, status.Used)
	}

	// Sixth request inside the window is gated with remaining == 0.
	status := gate.Check("fp-1")
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, base.Add(24*time.Hour), status.ResetAt)

	// Other fingerprints are independent.
	assert.True(t, gate.Check("fp-2").Allowed)

	// After the window the bucket evicts lazily.
	gate.now = func() time.Time { return base.Add(24*time.Hour + time.Second) }
	status = gate.Check("fp-1")
	assert.True(t, status.Allowed)
	assert.Equal(t, 0, status.Used)
}

func TestGuestCheckDoesNotGrowBuckets(t *testing.T) {
	gate := NewGuestGate(5, 24*time.Hour)

	for i := 0; i < 1000; i++ {
		gate.Check(fmt.Sprintf("probe-%d", i))
	}
	gate.mu.Lock()
	size := len(gate.buckets)
	gate.mu.Unlock()
	assert.Zero(t, size, "Check-only probes must not be retained")

	// Consumed fingerprints are retained, and drop once their stamps
	// expire.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }
	gate.Consume("fp-1")
	gate.mu.Lock()
	size = len(gate.buckets)
	gate.mu.Unlock()
	assert.Equal(t, 1, size)

	gate.now = func() time.Time { return base.Add(24*time.Hour + time.Second) }
	gate.Check("fp-1")
	gate.mu.Lock()
	size = len(gate.buckets)
	gate.mu.Unlock()
	assert.Zero(t, size, "expired buckets are dropped on access")
}

func TestFingerprintStability(t *testing.T) {
	mk := func(ip, ua, lang string) string {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = ip + ":51234"
		r.Header.Set("User-Agent", ua)
		r.Header.Set("Accept-Language", lang)
		return Fingerprint(r)
	}

	a := mk("203.0.113.7", "curl/8.0", "en-US")
	assert.Equal(t, a, mk("203.0.113.7", "curl/8.0", "en-US"))
	assert.NotEqual(t, a, mk("203.0.113.8", "curl/8.0", "en-US"))
	assert.NotEqual(t, a, mk("203.0.113.7", "curl/8.1", "en-US"))

	// X-Forwarded-For takes the first hop.
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Accept-Language", "en-US")
	assert.Equal(t, a, Fingerprint(r))
}
