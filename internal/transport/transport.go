// Package transport defines the capability contract every device transport
// (cloud HTTP, Modbus TCP, WiFi dongle) must satisfy. Concrete drivers live
// outside this module and register themselves with the Registry; the
// coordinator treats all kinds uniformly through the Transport interface.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fleetlink/internal/config"
	"fleetlink/internal/domain"
)

// ErrDriverNotInstalled means no driver is registered for a transport kind.
var ErrDriverNotInstalled = errors.New("transport driver not installed")

// Kind identifies a transport flavor.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindModbus Kind = "modbus"
	KindDongle Kind = "dongle"
)

// Transport is the capability interface onto one fleet entry's devices.
// Every call is fallible and must be treated as a potential partial failure.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Reauthenticate refreshes an expired session. Transports without a
	// session concept return nil.
	Reauthenticate(ctx context.Context) error

	// SessionSafe reports whether calls for different devices may run
	// concurrently on this transport instance.
	SessionSafe() bool

	Kind() Kind

	ReadRuntime(ctx context.Context, serial string) (domain.RawPayload, error)
	ReadEnergy(ctx context.Context, serial string) (domain.RawPayload, error)
	ReadBattery(ctx context.Context, serial string) (domain.RawPayload, error)
	ReadMidbox(ctx context.Context, serial string) (domain.RawPayload, error)
	ReadDeviceType(ctx context.Context, serial string) (int, error)
	ReadFirmwareVersion(ctx context.Context, serial string) (string, error)
	ReadParallelConfig(ctx context.Context, serial string) (uint16, error)

	// ReadStation fetches plant-level metadata. Local transports that have
	// no station concept return an empty payload.
	ReadStation(ctx context.Context) (domain.RawPayload, error)
}

// Factory builds a transport for a fleet entry.
type Factory interface {
	New(entry *config.FleetEntry) (Transport, error)
}

// Builder constructs a transport of one kind for an entry.
type Builder func(entry *config.FleetEntry) (Transport, error)

// Registry maps transport kinds to driver builders. Drivers register
// themselves at init time; entries resolve to a kind via KindFor.
type Registry struct {
	mu       sync.RWMutex
	builders map[Kind]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[Kind]Builder)}
}

// Register installs a driver builder for a kind, replacing any previous one.
func (r *Registry) Register(kind Kind, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// New builds the transport for the entry's effective kind.
func (r *Registry) New(entry *config.FleetEntry) (Transport, error) {
	kind := KindFor(entry)

	r.mu.RLock()
	builder, ok := r.builders[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, &ConnectionError{
			Op:  "transport.New",
			Err: fmt.Errorf("%w: kind %q", ErrDriverNotInstalled, kind),
		}
	}
	return builder(entry)
}

// KindFor resolves the transport kind an entry polls through. Local config
// wins when present (hybrid entries poll locally, cloud stays for metadata).
func KindFor(entry *config.FleetEntry) Kind {
	if entry.Local != nil {
		if entry.Local.Kind == config.LocalDongle {
			return KindDongle
		}
		return KindModbus
	}
	return KindHTTP
}
