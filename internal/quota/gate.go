package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/metrics"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Limits is the fixed per-tier ceiling table. Free gets no shell or
// edit budget at all; those gates also fail the capability check, this
// is the second fence.
var Limits = map[models.Tier]models.TierLimits{
	models.TierFree: {
		ChatPerWeek: 50, ChatPerDay: 15, ImagesPerWeek: 5,
		ShellPerHour: 0, EditsPerHour: 0,
		MaxConcurrent: 1, MaxWorkspaces: 1,
	},
	models.TierPro: {
		ChatPerWeek: 500, ChatPerDay: 120, ImagesPerWeek: 40,
		ShellPerHour: 30, EditsPerHour: 60,
		MaxConcurrent: 3, MaxWorkspaces: 5,
	},
	models.TierSovereign: {
		ChatPerWeek: 5000, ChatPerDay: 1200, ImagesPerWeek: 200,
		ShellPerHour: 120, EditsPerHour: 240,
		MaxConcurrent: 8, MaxWorkspaces: 20,
	},
}

func periodLength(action models.QuotaAction) time.Duration {
	switch action {
	case models.ActionChatDaily:
		return 24 * time.Hour
	case models.ActionChatWeekly, models.ActionImageWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

func limitFor(tier models.Tier, action models.QuotaAction) int64 {
	limits, ok := Limits[tier]
	if !ok {
		limits = Limits[models.TierFree]
	}
	switch action {
	case models.ActionChatDaily:
		return limits.ChatPerDay
	case models.ActionChatWeekly:
		return limits.ChatPerWeek
	case models.ActionImageWeekly:
		return limits.ImagesPerWeek
	case models.ActionShellHourly:
		return limits.ShellPerHour
	case models.ActionEditHourly:
		return limits.EditsPerHour
	}
	return 0
}

// Gate meters usage. Records buffer in memory and flush to the durable
// store on a timer and on Close; the count any check sees is the stored
// value plus the unflushed delta, so gating never waits on the flush.
type Gate struct {
	mu     sync.Mutex
	store  CounterStore
	buffer map[string]int64

	slotsMu sync.Mutex
	slots   map[string]int // userID → in-flight requests

	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// NewGate wires the gate and starts the flush loop.
func NewGate(store CounterStore, flushInterval time.Duration) *Gate {
	g := &Gate{
		store:  store,
		buffer: make(map[string]int64),
		slots:  make(map[string]int),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go g.flushLoop(flushInterval)
	return g
}

func (g *Gate) key(userID string, action models.QuotaAction, at time.Time) string {
	period := int64(periodLength(action) / time.Second)
	periodKey := at.Unix() / period
	return fmt.Sprintf("%s|%s|%d", userID, action, periodKey)
}

// Check answers whether one more unit of action is within the tier
// ceiling. It never mutates state; callers Record separately on success.
func (g *Gate) Check(userID string, tier models.Tier, action models.QuotaAction) models.QuotaResult {
	limit := limitFor(tier, action)
	used := g.effectiveCount(g.key(userID, action, g.now()))

	res := models.QuotaResult{
		Action:    action,
		Used:      used,
		Limit:     limit,
		Remaining: max(limit-used, 0),
		Allowed:   used < limit,
	}
	if !res.Allowed {
		metrics.QuotaDenials.WithLabelValues(string(action)).Inc()
	}
	return res
}

// Record consumes one unit. Call only after the metered operation
// actually delivered.
func (g *Gate) Record(userID string, action models.QuotaAction) {
	key := g.key(userID, action, g.now())
	g.mu.Lock()
	g.buffer[key]++
	g.mu.Unlock()
}

func (g *Gate) effectiveCount(key string) int64 {
	stored, err := g.store.Get(key)
	if err != nil {
		log.Warn().Err(err).Msg("Quota store read failed; gating on buffer only")
	}
	g.mu.Lock()
	delta := g.buffer[key]
	g.mu.Unlock()
	return stored + delta
}

// Acquire takes a concurrency slot. Release must be called when the
// request finishes, terminal or not.
func (g *Gate) Acquire(userID string, tier models.Tier) bool {
	limits, ok := Limits[tier]
	if !ok {
		limits = Limits[models.TierFree]
	}
	g.slotsMu.Lock()
	defer g.slotsMu.Unlock()
	if g.slots[userID] >= limits.MaxConcurrent {
		return false
	}
	g.slots[userID]++
	return true
}

func (g *Gate) Release(userID string) {
	g.slotsMu.Lock()
	defer g.slotsMu.Unlock()
	if g.slots[userID] > 0 {
		g.slots[userID]--
	}
	if g.slots[userID] == 0 {
		delete(g.slots, userID)
	}
}

// InFlight reports the user's current concurrent requests.
func (g *Gate) InFlight(userID string) int {
	g.slotsMu.Lock()
	defer g.slotsMu.Unlock()
	return g.slots[userID]
}

func (g *Gate) flushLoop(interval time.Duration) {
	defer close(g.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Flush()
		case <-g.stop:
			return
		}
	}
}

// Flush drains the buffer into the durable store. The drained deltas
// are re-buffered on failure so no usage is lost.
func (g *Gate) Flush() {
	g.mu.Lock()
	if len(g.buffer) == 0 {
		g.mu.Unlock()
		return
	}
	drained := g.buffer
	g.buffer = make(map[string]int64)
	g.mu.Unlock()

	if err := g.store.AddBatch(drained); err != nil {
		log.Error().Err(err).Int("keys", len(drained)).Msg("Quota flush failed; re-buffering")
		g.mu.Lock()
		for k, d := range drained {
			g.buffer[k] += d
		}
		g.mu.Unlock()
	}
}

// Close stops the flush loop and performs a final flush.
func (g *Gate) Close() error {
	close(g.stop)
	<-g.done
	g.Flush()
	return g.store.Close()
}
