package domain

import "time"

// DeviceType identifies what kind of hardware a fleet device is.
type DeviceType string

const (
	DeviceInverter      DeviceType = "inverter"
	DeviceGridBoss      DeviceType = "gridboss"
	DeviceParallelGroup DeviceType = "parallel_group"
)

// RawPayload is an undecoded transport payload: raw field names mapped to
// whatever the transport returned (numbers, strings, nested maps).
type RawPayload map[string]interface{}

// DeviceRecord is the canonical per-device view for one poll cycle. It is
// rebuilt wholesale every cycle; only the monotonic tracker carries values
// across cycles.
type DeviceRecord struct {
	Serial          string                            `json:"serial"`
	Type            DeviceType                        `json:"type"`
	Model           string                            `json:"model,omitempty"`
	FirmwareVersion string                            `json:"firmware_version"`
	Sensors         map[string]interface{}            `json:"sensors"`
	Batteries       map[string]map[string]interface{} `json:"batteries,omitempty"`
	Parameters      map[string]interface{}            `json:"parameters,omitempty"`
	Error           string                            `json:"error,omitempty"`
}

// Available reports whether consumers should treat the device as live.
// Presence of an error string is the unavailability signal.
func (d DeviceRecord) Available() bool {
	return d.Error == ""
}

// StationRecord carries plant-level metadata plus polling-rate diagnostics.
type StationRecord struct {
	Name             string  `json:"name"`
	Country          string  `json:"country,omitempty"`
	Timezone         string  `json:"timezone,omitempty"`
	Address          string  `json:"address,omitempty"`
	APIRequestRate   float64 `json:"api_request_rate,omitempty"`
	APIRequestsToday float64 `json:"api_requests_today,omitempty"`
}

// Snapshot is one poll cycle's complete result. A snapshot is never mutated
// after publication; each cycle builds a new one and swaps it in atomically.
type Snapshot struct {
	CycleID    string                  `json:"cycle_id"`
	Devices    map[string]DeviceRecord `json:"devices"`
	Station    *StationRecord          `json:"station,omitempty"`
	DeviceInfo map[string]RawPayload   `json:"device_info,omitempty"`
	TakenAt    time.Time               `json:"taken_at"`
	Stale      bool                    `json:"stale,omitempty"`
}

// StaleCopy returns a copy of the snapshot with the stale flag set. The device
// and sensor maps are shared, which is safe because snapshots are read-only
// once published.
func (s *Snapshot) StaleCopy() *Snapshot {
	cp := *s
	cp.Stale = true
	return &cp
}
