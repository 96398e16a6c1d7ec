package history

import (
	"testing"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlink/internal/domain"
)

func sampleSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		CycleID: "cycle-1",
		TakenAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Devices: map[string]domain.DeviceRecord{
			"SN1": {
				Serial:          "SN1",
				Type:            domain.DeviceInverter,
				FirmwareVersion: "FAAB-1919",
				Sensors: map[string]interface{}{
					"ac_voltage": 241.7,
					"status":     "PV On-grid",
				},
				Batteries: map[string]map[string]interface{}{
					"bat01": {"soc": 88.0},
				},
			},
			"SN2": {
				Serial:  "SN2",
				Type:    domain.DeviceInverter,
				Sensors: map[string]interface{}{},
				Error:   "read timeout",
			},
		},
		Station: &domain.StationRecord{
			Name:             "Hilltop",
			APIRequestRate:   1.5,
			APIRequestsToday: 1200,
		},
	}
}

func pointByMeasurement(points []*influxdb3.Point, measurement string) *influxdb3.Point {
	for _, p := range points {
		if p.Values.MeasurementName == measurement {
			return p
		}
	}
	return nil
}

func TestPointsConversion(t *testing.T) {
	points := Points("entry-1", sampleSnapshot())

	// one point for the healthy device, one for the station; the failed
	// device contributes nothing
	require.Len(t, points, 2)

	device := pointByMeasurement(points, "device_telemetry")
	require.NotNil(t, device)
	assert.Equal(t, "entry-1", device.Values.Tags["entry_id"])
	assert.Equal(t, "SN1", device.Values.Tags["serial"])
	assert.Equal(t, "inverter", device.Values.Tags["device_type"])
	assert.Equal(t, 241.7, device.Values.Fields["ac_voltage"])
	assert.Equal(t, 88.0, device.Values.Fields["bat01_soc"])
	// string-valued sensors are not persisted as fields
	assert.NotContains(t, device.Values.Fields, "status")

	station := pointByMeasurement(points, "station_diagnostics")
	require.NotNil(t, station)
	assert.Equal(t, "Hilltop", station.Values.Tags["station"])
	assert.Equal(t, 1.5, station.Values.Fields["api_request_rate"])
}

func TestPointsSkipsEmptyDevices(t *testing.T) {
	snap := &domain.Snapshot{
		TakenAt: time.Now(),
		Devices: map[string]domain.DeviceRecord{
			"SN1": {Serial: "SN1", Type: domain.DeviceInverter, Sensors: map[string]interface{}{}},
		},
	}

	assert.Empty(t, Points("entry-1", snap))
}
