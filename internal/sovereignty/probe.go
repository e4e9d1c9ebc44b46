package sovereignty

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsProbe reads thermal and memory telemetry from /sys and /proc.
// Every field is best-effort: a host without thermal zones still
// returns a reading with the fields it has.
type SysfsProbe struct {
	// Root is "/" in production; tests point it at a fixture tree.
	Root string
}

func NewSysfsProbe() *SysfsProbe { return &SysfsProbe{Root: "/"} }

func (p *SysfsProbe) Read() (*HostTelemetry, error) {
	t := &HostTelemetry{}
	t.CPUTempC = p.readThermal()
	t.Load1 = p.readLoad()
	t.MemTotalMB, t.MemAvailableMB = p.readMem()
	return t, nil
}

// readThermal returns the hottest thermal zone in °C, 0 when none.
func (p *SysfsProbe) readThermal() float64 {
	zones, err := filepath.Glob(filepath.Join(p.Root, "sys/class/thermal/thermal_zone*/temp"))
	if err != nil {
		return 0
	}
	var max float64
	for _, zone := range zones {
		raw, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			continue
		}
		if c := milli / 1000; c > max {
			max = c
		}
	}
	return max
}

func (p *SysfsProbe) readLoad() float64 {
	raw, err := os.ReadFile(filepath.Join(p.Root, "proc/loadavg"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	load, _ := strconv.ParseFloat(fields[0], 64)
	return load
}

func (p *SysfsProbe) readMem() (totalMB, availMB int64) {
	raw, err := os.ReadFile(filepath.Join(p.Root, "proc/meminfo"))
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalMB = kb / 1024
		case "MemAvailable:":
			availMB = kb / 1024
		}
	}
	return totalMB, availMB
}
