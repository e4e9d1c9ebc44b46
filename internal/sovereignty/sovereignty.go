// Package sovereignty answers "did my data leave this machine?". It
// folds the audit chain into a locality proof, snapshots host
// telemetry, and turns the thermal reading into a downgrade advisory
// for the capability router.
package sovereignty

import (
	"time"

	"github.com/kurolabs/kuro-gateway/internal/audit"
	"github.com/kurolabs/kuro-gateway/internal/frontier"
)

// thermalThrottleC is the CPU temperature above which the advisory
// asks the capability router to step the dial down.
const thermalThrottleC = 85.0

// LocalityProof is the verifiable local-vs-frontier breakdown derived
// from the audit chain, not from self-reported counters.
type LocalityProof struct {
	TotalStreams        int     `json:"total_streams"`
	FrontierEscalations int     `json:"frontier_escalations"`
	LocalShare          float64 `json:"local_share"`
	ChainSeq            uint64  `json:"chain_seq"`
	ChainVerified       bool    `json:"chain_verified"`
	Signed              bool    `json:"signed"`
	GeneratedAt         string  `json:"generated_at"`
}

// HostTelemetry is one reading of the machine the models run on.
type HostTelemetry struct {
	CPUTempC       float64 `json:"cpu_temp_c"`
	Load1          float64 `json:"load_1"`
	MemTotalMB     int64   `json:"mem_total_mb"`
	MemAvailableMB int64   `json:"mem_available_mb"`
	GPUName        string  `json:"gpu_name,omitempty"`
	ReadAt         string  `json:"read_at"`
}

// Advisory is the capability-facing view of the telemetry.
type Advisory struct {
	ThermalThrottle bool    `json:"thermal_throttle"`
	CPUTempC        float64 `json:"cpu_temp_c"`
	ThresholdC      float64 `json:"threshold_c"`
}

// Status is the full /api/sovereignty payload.
type Status struct {
	Proof     LocalityProof  `json:"proof"`
	Telemetry *HostTelemetry `json:"telemetry,omitempty"`
	Advisory  Advisory       `json:"advisory"`
	Frontier  FrontierStatus `json:"frontier"`
}

// FrontierStatus summarizes the escalation surface.
type FrontierStatus struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Probe reads host telemetry. The sysfs probe is the production
// implementation; tests substitute a fixed reading.
type Probe interface {
	Read() (*HostTelemetry, error)
}

// Monitor aggregates the audit chain, the host probe and the frontier
// router into the sovereignty surface.
type Monitor struct {
	chain    *audit.Chain
	probe    Probe
	frontier *frontier.Router
	now      func() time.Time
}

func NewMonitor(chain *audit.Chain, probe Probe, fr *frontier.Router) *Monitor {
	return &Monitor{chain: chain, probe: probe, frontier: fr, now: time.Now}
}

// Proof derives the locality proof from audit stats. Escalations are
// the chain's "escalated" entries; completed streams are
// "stream_complete". A stream that escalated still completed, so the
// local share is (complete - escalated) / complete.
func (m *Monitor) Proof() LocalityProof {
	stats := m.chain.Stats()
	total := stats.ByAction["stream_complete"]
	escalated := stats.ByAction["escalated"]

	share := 1.0
	if total > 0 {
		share = float64(total-escalated) / float64(total)
		if share < 0 {
			share = 0
		}
	}

	verified := true
	for _, report := range m.chain.VerifyAll() {
		if !report.Valid {
			verified = false
			break
		}
	}

	return LocalityProof{
		TotalStreams:        total,
		FrontierEscalations: escalated,
		LocalShare:          share,
		ChainSeq:            stats.Seq,
		ChainVerified:       verified,
		Signed:              stats.Signed,
		GeneratedAt:         m.now().UTC().Format(time.RFC3339),
	}
}

// Telemetry returns the latest probe reading, nil when the probe is
// absent or failing. A missing reading is not an error surface.
func (m *Monitor) Telemetry() *HostTelemetry {
	if m.probe == nil {
		return nil
	}
	reading, err := m.probe.Read()
	if err != nil {
		return nil
	}
	reading.ReadAt = m.now().UTC().Format(time.RFC3339)
	return reading
}

// Advisory maps the thermal reading onto the capability downgrade
// signal. No reading means no throttle.
func (m *Monitor) Advisory() Advisory {
	adv := Advisory{ThresholdC: thermalThrottleC}
	if t := m.Telemetry(); t != nil {
		adv.CPUTempC = t.CPUTempC
		adv.ThermalThrottle = t.CPUTempC >= thermalThrottleC
	}
	return adv
}

// Throttling is the capability router's hook.
func (m *Monitor) Throttling() bool {
	return m.Advisory().ThermalThrottle
}

// Status assembles the full sovereignty payload.
func (m *Monitor) Status() Status {
	s := Status{
		Proof:     m.Proof(),
		Telemetry: m.Telemetry(),
		Advisory:  m.Advisory(),
	}
	if m.frontier != nil {
		s.Frontier = FrontierStatus{
			Enabled:  m.frontier.Enabled(),
			Provider: m.frontier.Provider(),
			Model:    m.frontier.Model(),
		}
	}
	return s
}
