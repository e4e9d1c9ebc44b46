package sovereignty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/internal/audit"
	"github.com/kurolabs/kuro-gateway/internal/frontier"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

type fixedProbe struct {
	temp float64
	err  error
}

func (p *fixedProbe) Read() (*HostTelemetry, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &HostTelemetry{CPUTempC: p.temp, Load1: 1.5, MemTotalMB: 32768, MemAvailableMB: 20000}, nil
}

func newChain(t *testing.T) *audit.Chain {
	t.Helper()
	c, err := audit.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestProofCountsEscalations(t *testing.T) {
	chain := newChain(t)
	for i := 0; i < 10; i++ {
		_, err := chain.Log(models.AuditEntry{Agent: "stream", Action: "stream_complete", Result: models.AuditOK})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := chain.Log(models.AuditEntry{Agent: "frontier", Action: "escalated", Result: models.AuditOK})
		require.NoError(t, err)
	}

	m := NewMonitor(chain, nil, nil)
	proof := m.Proof()
	assert.Equal(t, 10, proof.TotalStreams)
	assert.Equal(t, 3, proof.FrontierEscalations)
	assert.InDelta(t, 0.7, proof.LocalShare, 0.001)
	assert.True(t, proof.ChainVerified)
	assert.Equal(t, uint64(13), proof.ChainSeq)
}

func TestProofEmptyChainIsFullyLocal(t *testing.T) {
	m := NewMonitor(newChain(t), nil, nil)
	proof := m.Proof()
	assert.Equal(t, 0, proof.TotalStreams)
	assert.Equal(t, 1.0, proof.LocalShare)
}

func TestAdvisoryThermalThreshold(t *testing.T) {
	chain := newChain(t)

	cool := NewMonitor(chain, &fixedProbe{temp: 60}, nil)
	assert.False(t, cool.Throttling())

	hot := NewMonitor(chain, &fixedProbe{temp: 91}, nil)
	adv := hot.Advisory()
	assert.True(t, adv.ThermalThrottle)
	assert.Equal(t, 91.0, adv.CPUTempC)
	assert.True(t, hot.Throttling())
}

func TestAdvisoryWithoutProbe(t *testing.T) {
	m := NewMonitor(newChain(t), nil, nil)
	assert.False(t, m.Throttling())
	assert.Nil(t, m.Telemetry())
}

func TestStatusIncludesFrontier(t *testing.T) {
	fr := frontier.NewRouter(true, "openai", "gpt-test", 10, nil, nil)
	m := NewMonitor(newChain(t), &fixedProbe{temp: 55}, fr)

	status := m.Status()
	assert.True(t, status.Frontier.Enabled)
	assert.Equal(t, "openai", status.Frontier.Provider)
	require.NotNil(t, status.Telemetry)
	assert.Equal(t, 55.0, status.Telemetry.CPUTempC)
}

func TestSysfsProbeReadsFixtures(t *testing.T) {
	root := t.TempDir()
	thermal := filepath.Join(root, "sys/class/thermal/thermal_zone0")
	require.NoError(t, os.MkdirAll(thermal, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(thermal, "temp"), []byte("72500\n"), 0o644))
	proc := filepath.Join(root, "proc")
	require.NoError(t, os.MkdirAll(proc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(proc, "loadavg"), []byte("0.42 0.30 0.25 1/400 9999\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(proc, "meminfo"), []byte("MemTotal:       32000000 kB\nMemAvailable:   16000000 kB\n"), 0o644))

	p := &SysfsProbe{Root: root}
	reading, err := p.Read()
	require.NoError(t, err)
	assert.InDelta(t, 72.5, reading.CPUTempC, 0.001)
	assert.InDelta(t, 0.42, reading.Load1, 0.001)
	assert.Equal(t, int64(31250), reading.MemTotalMB)
	assert.Equal(t, int64(15625), reading.MemAvailableMB)
}
