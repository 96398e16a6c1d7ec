package config

import (
	"time"

	"fleetlink/internal/domain"
)

// ConnectionMode is how a fleet entry reaches its devices.
type ConnectionMode string

const (
	ModeCloud  ConnectionMode = "cloud"
	ModeLocal  ConnectionMode = "local"
	ModeHybrid ConnectionMode = "hybrid"
)

// LocalKind is the local transport flavor of an entry.
type LocalKind string

const (
	LocalModbus LocalKind = "modbus"
	LocalDongle LocalKind = "dongle"
)

// CloudCredentials are the cloud API credentials of an entry. They must
// survive every connectivity-mode transition untouched.
type CloudCredentials struct {
	Username string `json:"username" bson:"username"`
	Password string `json:"password,omitempty" bson:"password"`
	PlantID  string `json:"plant_id" bson:"plant_id"`
	BaseURL  string `json:"base_url,omitempty" bson:"base_url"`
}

// LocalConfig describes a local transport endpoint.
type LocalConfig struct {
	Kind         LocalKind `json:"kind" bson:"kind"`
	Host         string    `json:"host" bson:"host"`
	Port         int       `json:"port" bson:"port"`
	DongleSerial string    `json:"dongle_serial,omitempty" bson:"dongle_serial"`
}

// DeviceConfig is one configured device of an entry. Features gates optional
// sensor groups: a flag explicitly set to false excludes the group, anything
// else (true or absent) includes it.
type DeviceConfig struct {
	Serial   string            `json:"serial" bson:"serial"`
	Type     domain.DeviceType `json:"type" bson:"type"`
	Model    string            `json:"model,omitempty" bson:"model"`
	Features map[string]bool   `json:"features,omitempty" bson:"features"`
}

// FleetEntry is one configured plant: its connectivity mode, credentials
// and/or local endpoint, and device list.
type FleetEntry struct {
	ID           string            `json:"id" bson:"entry_id"`
	Name         string            `json:"name" bson:"name"`
	Mode         ConnectionMode    `json:"mode" bson:"mode"`
	Cloud        *CloudCredentials `json:"cloud,omitempty" bson:"cloud,omitempty"`
	Local        *LocalConfig      `json:"local,omitempty" bson:"local,omitempty"`
	PollInterval time.Duration     `json:"poll_interval" bson:"poll_interval"`
	Timezone     string            `json:"timezone,omitempty" bson:"timezone"`
	Devices      []DeviceConfig    `json:"devices" bson:"devices"`
}

// Clone returns a deep copy so store readers can never alias stored state.
func (e *FleetEntry) Clone() *FleetEntry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Cloud != nil {
		cloud := *e.Cloud
		cp.Cloud = &cloud
	}
	if e.Local != nil {
		local := *e.Local
		cp.Local = &local
	}
	cp.Devices = make([]DeviceConfig, len(e.Devices))
	for i, d := range e.Devices {
		cp.Devices[i] = d
		if d.Features != nil {
			features := make(map[string]bool, len(d.Features))
			for k, v := range d.Features {
				features[k] = v
			}
			cp.Devices[i].Features = features
		}
	}
	return &cp
}
