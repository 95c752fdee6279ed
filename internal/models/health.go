package models

import "time"

// HealthLevel classifies a health snapshot.
type HealthLevel string

const (
	HealthOK       HealthLevel = "OK"
	HealthWarning  HealthLevel = "WARNING"
	HealthCritical HealthLevel = "CRITICAL"
)

// Sample is one reading from the resource sampling provider.
// TemperatureC is nil on platforms without temperature sensors.
type Sample struct {
	MemoryUsedRatio float64  `json:"memory_used_ratio"`
	CPUPercent      float64  `json:"cpu_percent"`
	TemperatureC    *float64 `json:"temperature_c,omitempty"`
	RemoteReachable bool     `json:"remote_reachable"`
}

// SystemHealth is a point-in-time classified snapshot. Consumers read an
// immutable copy, never a live-mutating structure.
type SystemHealth struct {
	Level          HealthLevel `json:"level"`
	CooldownActive bool        `json:"cooldown_active"`
	Sample         Sample      `json:"sample"`
	Timestamp      time.Time   `json:"timestamp"`
}

// ProcessingMode is a rung on the degradation ladder, ordered from highest
// capability (ModeHybrid) to lowest (ModeTextOnly).
type ProcessingMode int

const (
	ModeHybrid ProcessingMode = iota
	ModeLocalGPU
	ModeLocalCPU
	ModeTextOnly
)

var modeNames = map[ProcessingMode]string{
	ModeHybrid:   "HYBRID",
	ModeLocalGPU: "LOCAL_GPU",
	ModeLocalCPU: "LOCAL_CPU",
	ModeTextOnly: "TEXT_ONLY",
}

func (m ProcessingMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// Below reports whether m is a lower-capability rung than other.
func (m ProcessingMode) Below(other ProcessingMode) bool {
	return m > other
}

// ParseMode returns the mode named by s, defaulting to ModeHybrid.
func ParseMode(s string) ProcessingMode {
	for m, name := range modeNames {
		if name == s {
			return m
		}
	}
	return ModeHybrid
}

// MarshalText implements encoding.TextMarshaler so modes serialize by name
// in checkpoints and API responses.
func (m ProcessingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ProcessingMode) UnmarshalText(b []byte) error {
	*m = ParseMode(string(b))
	return nil
}
