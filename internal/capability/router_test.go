package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

func caller(tier models.Tier) *models.Caller {
	return &models.Caller{UserID: "u1", Tier: tier}
}

func TestTierCeilingSilentDowngrade(t *testing.T) {
	r := NewRouter(nil)

	p := r.Resolve(caller(models.TierFree), models.DialSovereign, DeviceHints{}, InfraSignals{}, "")
	assert.Equal(t, models.DialBalanced, p.Dial)
	assert.True(t, p.Downgraded)
	assert.Equal(t, "tier_ceiling", p.DowngradeWhy)
	assert.Equal(t, models.DialSovereign, p.Requested, "original request preserved for observability")

	p = r.Resolve(caller(models.TierSovereign), models.DialSovereign, DeviceHints{}, InfraSignals{}, "")
	assert.Equal(t, models.DialSovereign, p.Dial)
	assert.False(t, p.Downgraded)
	assert.True(t, p.Synthesis)
}

func TestCeilingNeverExceeded(t *testing.T) {
	r := NewRouter(nil)
	for _, tier := range []models.Tier{models.TierFree, models.TierPro, models.TierSovereign} {
		for dial := range dialOrder {
			p := r.Resolve(caller(tier), dial, DeviceHints{}, InfraSignals{}, "")
			assert.LessOrEqual(t, dialOrder[p.Dial], dialOrder[tierCeilings[tier]],
				"tier %s dial %s", tier, dial)
		}
	}
}

func TestGuestPinnedToInstant(t *testing.T) {
	r := NewRouter(nil)
	g := &models.Caller{IsGuest: true, Tier: models.TierFree}
	p := r.Resolve(g, models.DialDeep, DeviceHints{}, InfraSignals{}, "")
	assert.Equal(t, models.DialInstant, p.Dial)
}

func TestDeviceHintsOnlyDowngrade(t *testing.T) {
	r := NewRouter(nil)

	p := r.Resolve(caller(models.TierSovereign), models.DialSovereign, DeviceHints{LowMemory: true}, InfraSignals{}, "")
	assert.Equal(t, models.DialBalanced, p.Dial)
	assert.Equal(t, "device_hint", p.DowngradeWhy)

	// A hint never raises an instant request.
	p = r.Resolve(caller(models.TierSovereign), models.DialInstant, DeviceHints{}, InfraSignals{}, "")
	assert.Equal(t, models.DialInstant, p.Dial)
	assert.False(t, p.Downgraded)
}

func TestInfraSignalsForceDowngrade(t *testing.T) {
	r := NewRouter(nil)

	p := r.Resolve(caller(models.TierSovereign), models.DialDeep, DeviceHints{}, InfraSignals{ThermalThrottle: true}, "")
	assert.Equal(t, models.DialBalanced, p.Dial)
	assert.Equal(t, "gpu_thermal", p.DowngradeWhy)

	p = r.Resolve(caller(models.TierSovereign), models.DialDeep, DeviceHints{}, InfraSignals{BackendDegraded: true}, "")
	assert.Equal(t, models.DialInstant, p.Dial)
	assert.Equal(t, "backend_health", p.DowngradeWhy)
}

func TestUnknownDialDefaultsBalanced(t *testing.T) {
	r := NewRouter(nil)
	p := r.Resolve(caller(models.TierPro), models.PowerDial("turbo"), DeviceHints{}, InfraSignals{}, "")
	assert.Equal(t, models.DialBalanced, p.Dial)
	assert.False(t, p.Downgraded)
}

func TestPolicyCachePerSession(t *testing.T) {
	r := NewRouter(nil)

	_, ok := r.Policy("sess-1")
	assert.False(t, ok)

	r.Resolve(caller(models.TierPro), models.DialDeep, DeviceHints{}, InfraSignals{}, "sess-1")
	p, ok := r.Policy("sess-1")
	assert.True(t, ok)
	assert.Equal(t, models.DialDeep, p.Dial)

	r.Forget("sess-1")
	_, ok = r.Policy("sess-1")
	assert.False(t, ok)
}

func TestSummaryHidesInternals(t *testing.T) {
	r := NewRouter(nil)
	p := r.Resolve(caller(models.TierFree), models.DialSovereign, DeviceHints{}, InfraSignals{}, "")
	s := p.Summary()
	assert.Equal(t, p.Dial, s.Dial)
	assert.True(t, s.Downgraded)
	assert.NotEmpty(t, s.DowngradeWhy)
}
