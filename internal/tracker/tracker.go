// Package tracker guards cumulative counters against transport glitches.
// Lifetime counters may never decrease; daily counters are forced to zero on
// the first read after local midnight. State is in-memory only: a restart
// means the next transport read is trusted.
package tracker

import (
	"strings"
	"sync"
	"time"
)

// Lifetime counters: totals and cycle counts that never reset for the life of
// the device. Everything ending in _today or _daily is a daily counter; all
// other sensors are untracked.
var lifetimeSensors = map[string]bool{
	"pv_energy_total":         true,
	"battery_charge_total":    true,
	"battery_discharge_total": true,
	"grid_export_total":       true,
	"grid_import_total":       true,
	"eps_energy_total":        true,
	"load_energy_total":       true,
	"generator_energy_total":  true,
	"cycle_count":             true,
}

type sensorState struct {
	lastValid float64
	lastDate  string
}

// Tracker holds per-(device, sensor) last-valid state for one fleet entry.
// It must not be shared across entries.
type Tracker struct {
	mu    sync.Mutex
	state map[string]*sensorState
	loc   *time.Location
	now   func() time.Time
}

// New creates a tracker using loc for local-date math. A nil location falls
// back to UTC.
func New(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		state: make(map[string]*sensorState),
		loc:   loc,
		now:   time.Now,
	}
}

// SetLocation changes the timezone used for daily rollover detection.
func (t *Tracker) SetLocation(loc *time.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if loc != nil {
		t.loc = loc
	}
}

// IsLifetime reports whether a canonical sensor key is a lifetime counter.
func IsLifetime(sensorKey string) bool {
	return lifetimeSensors[sensorKey]
}

// IsDaily reports whether a canonical sensor key is a daily counter.
func IsDaily(sensorKey string) bool {
	return strings.HasSuffix(sensorKey, "_today") || strings.HasSuffix(sensorKey, "_daily")
}

// Apply enforces the counter invariants on one raw sensor value and returns
// the value consumers should see. Untracked or non-numeric inputs pass
// through; a non-numeric input for a tracked sensor returns the last valid
// value without mutating state.
func (t *Tracker) Apply(deviceKey, sensorKey string, raw interface{}) interface{} {
	lifetime := IsLifetime(sensorKey)
	if !lifetime && !IsDaily(sensorKey) {
		return raw
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := deviceKey + "." + sensorKey
	state := t.state[key]

	value, numeric := asFloat(raw)
	if !numeric {
		if state != nil {
			return state.lastValid
		}
		return raw
	}

	today := t.now().In(t.loc).Format("2006-01-02")

	if lifetime {
		if state == nil {
			t.state[key] = &sensorState{lastValid: value, lastDate: today}
			return value
		}
		if value < state.lastValid {
			// stale or rounded transport read, hold the line
			return state.lastValid
		}
		state.lastValid = value
		state.lastDate = today
		return value
	}

	// daily counter
	if state == nil {
		t.state[key] = &sensorState{lastValid: value, lastDate: today}
		return value
	}

	if state.lastDate != today {
		// Date rolled over: force zero no matter what the transport says.
		// The next read on the new date is accepted unconditionally as the
		// day's fresh accumulation.
		state.lastValid = 0
		state.lastDate = today
		return 0.0
	}

	if value == 0 {
		// explicit same-day reset is always honored
		state.lastValid = 0
		return 0.0
	}

	if value < state.lastValid {
		return state.lastValid
	}
	state.lastValid = value
	return value
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
