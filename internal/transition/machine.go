// Package transition implements the controlled moves between cloud, local and
// hybrid connectivity modes. One state-machine object exists per transition
// kind, all behind a shared interface and dispatched by a single Router; a
// transition mutates the stored configuration only in Execute, never the live
// snapshot, and an abandoned workflow persists nothing.
package transition

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetlink/internal/config"
	"fleetlink/internal/transport"
)

// Named steps of the input-collection state machine.
type Step string

const (
	StepSelectLocalType Step = "select_local_type"
	StepModbusConfig    Step = "modbus_config"
	StepDongleConfig    Step = "dongle_config"
	StepConfirm         Step = "confirm"
)

const (
	cloudPollInterval = 30 * time.Second
	localPollInterval = 5 * time.Second
)

var (
	// ErrPreconditionFailed means Validate rejected the transition; nothing
	// was mutated.
	ErrPreconditionFailed = errors.New("transition precondition failed")
	// ErrUnsupportedTransition means no machine exists for the requested
	// source/target pair.
	ErrUnsupportedTransition = errors.New("unsupported transition")
	// ErrWorkflowNotFound means the workflow id is unknown or already
	// finished.
	ErrWorkflowNotFound = errors.New("transition workflow not found")
)

// Field describes one requested input.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Default  string `json:"default,omitempty"`
	Required bool   `json:"required"`
}

// Result is one turn of the step protocol: either a request for more input
// (NextStep + Fields), the same step again with Errors, or Done.
type Result struct {
	NextStep Step              `json:"next_step,omitempty"`
	Fields   []Field           `json:"fields,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Done     bool              `json:"done,omitempty"`
}

// Context is the accumulated state of one transition workflow. Validated
// cloud credentials are captured up front and are never discarded while local
// transport config is added or removed.
type Context struct {
	Entry    *config.FleetEntry
	Source   config.ConnectionMode
	Target   config.ConnectionMode
	Cloud    *config.CloudCredentials
	Local    *config.LocalConfig
	Warnings []string
}

// Machine is one transition kind. Validate never mutates and never errors; a
// false return is surfaced as an abort. Collect is re-entrant per step.
// Execute atomically rewrites the entry and reloads its coordinator.
type Machine interface {
	Validate(ctx context.Context) bool
	Collect(ctx context.Context, step Step, input map[string]string) (Result, error)
	Execute(ctx context.Context) error
}

// Reloader restarts an entry's polling after its configuration changed.
// Implemented by the coordinator manager.
type Reloader interface {
	Reload(ctx context.Context, entryID string) error
}

// Router owns the active transition workflows and dispatches step input to
// the right machine.
type Router struct {
	store    config.Store
	factory  transport.Factory
	reloader Reloader

	mu     sync.Mutex
	active map[string]Machine
}

// NewRouter creates a router over the entry store, transport factory (used
// for connectivity probes) and coordinator reloader.
func NewRouter(store config.Store, factory transport.Factory, reloader Reloader) *Router {
	return &Router{
		store:    store,
		factory:  factory,
		reloader: reloader,
		active:   make(map[string]Machine),
	}
}

// Start validates preconditions and opens a workflow. The returned Result is
// the first input request.
func (r *Router) Start(ctx context.Context, entryID string, target config.ConnectionMode) (string, Result, error) {
	entry, err := r.store.Get(ctx, entryID)
	if err != nil {
		return "", Result{}, err
	}

	m, err := r.machineFor(entry, target)
	if err != nil {
		return "", Result{}, err
	}

	if !m.Validate(ctx) {
		return "", Result{}, fmt.Errorf("%w: entry %s cannot move from %s to %s", ErrPreconditionFailed, entryID, entry.Mode, target)
	}

	res, err := m.Collect(ctx, "", nil)
	if err != nil {
		return "", Result{}, err
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.active[id] = m
	r.mu.Unlock()
	return id, res, nil
}

// Step feeds operator input into a workflow. A Done result closes it.
func (r *Router) Step(ctx context.Context, id string, step Step, input map[string]string) (Result, error) {
	r.mu.Lock()
	m, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return Result{}, ErrWorkflowNotFound
	}

	res, err := m.Collect(ctx, step, input)
	if err == nil && res.Done {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}
	return res, err
}

// Abandon drops a workflow. Nothing has been persisted before Execute, so
// there is nothing to roll back.
func (r *Router) Abandon(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(r.active, id)
	return nil
}

func (r *Router) machineFor(entry *config.FleetEntry, target config.ConnectionMode) (Machine, error) {
	tc := &Context{
		Entry:  entry,
		Source: entry.Mode,
		Target: target,
		Cloud:  entry.Cloud,
	}

	switch {
	case entry.Mode == config.ModeCloud && target == config.ModeHybrid:
		return &CloudToHybrid{tc: tc, store: r.store, factory: r.factory, reloader: r.reloader}, nil
	case entry.Mode == config.ModeHybrid && target == config.ModeCloud:
		return &HybridToCloud{tc: tc, store: r.store, reloader: r.reloader}, nil
	case (entry.Mode == config.ModeHybrid || entry.Mode == config.ModeLocal) && target == entry.Mode:
		return &LocalSwap{tc: tc, store: r.store, factory: r.factory, reloader: r.reloader}, nil
	default:
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedTransition, entry.Mode, target)
	}
}

// probeLocal checks connectivity of a candidate local transport config by
// building a throwaway transport and reading the device type of the entry's
// first device.
func probeLocal(ctx context.Context, factory transport.Factory, entry *config.FleetEntry, local *config.LocalConfig) error {
	probe := entry.Clone()
	probe.Local = local

	tr, err := factory.New(probe)
	if err != nil {
		return err
	}

	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.Disconnect(context.WithoutCancel(ctx))

	serial := ""
	if len(entry.Devices) > 0 {
		serial = entry.Devices[0].Serial
	}
	_, err = tr.ReadDeviceType(ctx, serial)
	return err
}

// probeErrorCode maps a probe failure to the operator-facing error key.
func probeErrorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, transport.ErrDriverNotInstalled):
		return "not_installed"
	case transport.IsConnection(err):
		return "connection_failed"
	case transport.IsAuth(err):
		return "invalid_auth"
	default:
		return "unknown"
	}
}

// selectLocalTypeResult is the shared first form of machines that add or swap
// a local transport.
func selectLocalTypeResult() Result {
	return Result{
		NextStep: StepSelectLocalType,
		Fields: []Field{
			{Name: "local_type", Label: "Local transport type (modbus or dongle)", Required: true},
		},
	}
}

// localConfigFields echoes already-entered values back as defaults so a
// failed probe never discards operator input.
func localConfigFields(kind config.LocalKind, input map[string]string) []Field {
	fields := []Field{
		{Name: "host", Label: "Host", Default: input["host"], Required: true},
	}
	switch kind {
	case config.LocalDongle:
		fields = append(fields,
			Field{Name: "port", Label: "Port", Default: defaultString(input["port"], "8000")},
			Field{Name: "dongle_serial", Label: "Dongle serial", Default: input["dongle_serial"], Required: true},
		)
	default:
		fields = append(fields,
			Field{Name: "port", Label: "Port", Default: defaultString(input["port"], "502")},
		)
	}
	return fields
}

// parseLocalConfig validates step input into a LocalConfig. Field errors come
// back keyed by field name.
func parseLocalConfig(kind config.LocalKind, input map[string]string) (*config.LocalConfig, map[string]string) {
	fieldErrors := make(map[string]string)

	host := input["host"]
	if host == "" {
		fieldErrors["host"] = "required"
	}

	defaultPort := 502
	if kind == config.LocalDongle {
		defaultPort = 8000
	}
	port := defaultPort
	if raw := input["port"]; raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 65535 {
			fieldErrors["port"] = "invalid_port"
		} else {
			port = p
		}
	}

	cfg := &config.LocalConfig{Kind: kind, Host: host, Port: port}
	if kind == config.LocalDongle {
		cfg.DongleSerial = input["dongle_serial"]
		if cfg.DongleSerial == "" {
			fieldErrors["dongle_serial"] = "required"
		}
	}

	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}
	return cfg, nil
}

// stepForKind returns the config-collection step for a local kind.
func stepForKind(kind config.LocalKind) Step {
	if kind == config.LocalDongle {
		return StepDongleConfig
	}
	return StepModbusConfig
}

// kindForStep is the inverse of stepForKind.
func kindForStep(step Step) (config.LocalKind, bool) {
	switch step {
	case StepModbusConfig:
		return config.LocalModbus, true
	case StepDongleConfig:
		return config.LocalDongle, true
	default:
		return "", false
	}
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func pollIntervalWarning(from, to time.Duration) string {
	return fmt.Sprintf("polling interval will change from %s to %s", from, to)
}
