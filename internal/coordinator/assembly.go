package coordinator

import (
	"strings"

	"fleetlink/internal/config"
	"fleetlink/internal/domain"
)

// Presentation treats blank firmware as "never polled", so a missing firmware
// code always becomes this placeholder.
const firmwareFallback = "unknown"

// assembleDevice groups canonical sensors into a DeviceRecord: device-level
// sensors, per-battery maps keyed by a cleaned battery identifier, and
// phase-specific sensors gated by the device's feature flags.
func assembleDevice(dev config.DeviceConfig, sensors map[string]interface{}, batteries map[string]map[string]interface{}) domain.DeviceRecord {
	rec := domain.DeviceRecord{
		Serial:          dev.Serial,
		Type:            dev.Type,
		Model:           dev.Model,
		FirmwareVersion: firmwareFallback,
		Sensors:         make(map[string]interface{}, len(sensors)),
	}

	for key, value := range sensors {
		if key == "firmware_version" {
			if fw, ok := value.(string); ok && fw != "" {
				rec.FirmwareVersion = fw
			}
			continue
		}
		if !includeSensor(key, dev.Features) {
			continue
		}
		rec.Sensors[key] = value
	}

	if len(batteries) > 0 {
		rec.Batteries = make(map[string]map[string]interface{}, len(batteries))
		for rawKey, fields := range batteries {
			rec.Batteries[cleanBatteryKey(rawKey, dev.Serial)] = fields
		}
	}

	return rec
}

// includeSensor gates phase-specific sensors on capability flags. A flag that
// is explicitly false excludes the group; an absent flag includes it, since
// under-reporting sensors is worse than over-reporting absent ones.
func includeSensor(key string, features map[string]bool) bool {
	var feature string
	switch {
	case strings.HasSuffix(key, "_l2"):
		feature = "split_phase"
	case strings.HasSuffix(key, "_l3"):
		feature = "three_phase"
	default:
		return true
	}

	if enabled, ok := features[feature]; ok {
		return enabled
	}
	return true
}

// cleanBatteryKey derives a stable battery identifier from the raw battery
// key and the parent serial. Raw keys often embed the parent serial and
// arbitrary separators; the result is lowercase with underscores only.
func cleanBatteryKey(rawKey, parentSerial string) string {
	key := strings.ToLower(strings.TrimSpace(rawKey))
	serial := strings.ToLower(parentSerial)

	if serial != "" && strings.HasPrefix(key, serial) {
		key = key[len(serial):]
	}

	var b strings.Builder
	lastUnderscore := true // also trims leading separators
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	cleaned := strings.TrimSuffix(b.String(), "_")
	if cleaned == "" {
		return "battery"
	}
	return cleaned
}

// stationFromSensors builds the StationRecord out of normalized plant fields.
func stationFromSensors(fields map[string]interface{}) *domain.StationRecord {
	if len(fields) == 0 {
		return nil
	}
	station := &domain.StationRecord{}
	if v, ok := fields["name"].(string); ok {
		station.Name = v
	}
	if v, ok := fields["country"].(string); ok {
		station.Country = v
	}
	if v, ok := fields["timezone"].(string); ok {
		station.Timezone = v
	}
	if v, ok := fields["address"].(string); ok {
		station.Address = v
	}
	if v, ok := fields["api_request_rate"].(float64); ok {
		station.APIRequestRate = v
	}
	if v, ok := fields["api_requests_today"].(float64); ok {
		station.APIRequestsToday = v
	}
	return station
}
