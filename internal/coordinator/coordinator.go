// Package coordinator schedules poll cycles per fleet entry, fans reads out
// over the entry's transport, normalizes the results, and publishes immutable
// snapshots. A coalescing gate keeps at most one cycle in flight per entry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fleetlink/internal/config"
	"fleetlink/internal/domain"
	"fleetlink/internal/mapper"
	"fleetlink/internal/tracker"
	"fleetlink/internal/transport"
	"fleetlink/pkg/logger"
)

// ErrReauthRequired means the cloud session could not be refreshed. The cycle
// is aborted for cloud-backed devices and the entry needs operator attention.
var ErrReauthRequired = errors.New("entry requires reauthentication")

// ErrCycleFailed means every device in the cycle failed; the previous
// snapshot stays visible, marked stale.
var ErrCycleFailed = errors.New("poll cycle failed for all devices")

// ErrClosed means the coordinator was shut down; no further polls run.
var ErrClosed = errors.New("coordinator closed")

// Sink consumes published snapshots (history writer, exporters).
type Sink interface {
	Publish(entryID string, snap *domain.Snapshot)
}

type pollCall struct {
	done chan struct{}
	snap *domain.Snapshot
	err  error
}

// Coordinator polls one fleet entry. It owns the entry's transport session
// and the entry's monotonic tracker; neither is shared across entries.
type Coordinator struct {
	entry       *config.FleetEntry
	tr          transport.Transport
	track       *tracker.Tracker
	loc         *time.Location
	callTimeout time.Duration
	sinks       []Sink

	snapshot atomic.Pointer[domain.Snapshot]

	mu       sync.Mutex
	inflight *pollCall
	closed   bool

	// lifecycle context: every poll, scheduled or on-demand, descends from
	// it so Close cancels them all before touching the transport.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles      atomic.Uint64
	failures    atomic.Uint64
	lastSuccess atomic.Int64 // unix nanos, 0 = never
}

// New creates a coordinator for the entry. The transport is owned by the
// coordinator from here on.
func New(entry *config.FleetEntry, tr transport.Transport, callTimeout time.Duration, sinks ...Sink) *Coordinator {
	loc := time.UTC
	if entry.Timezone != "" {
		if l, err := time.LoadLocation(entry.Timezone); err == nil {
			loc = l
		} else {
			logger.Warnf("entry %s: unknown timezone %q, falling back to UTC", entry.ID, entry.Timezone)
		}
	}
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:         ctx,
		cancel:      cancel,
		entry:       entry.Clone(),
		tr:          tr,
		track:       tracker.New(loc),
		loc:         loc,
		callTimeout: callTimeout,
		sinks:       sinks,
	}
}

// Start launches the repeating poll loop.
func (c *Coordinator) Start() {
	ctx := c.ctx

	interval := c.entry.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.connect(ctx); err != nil {
			logger.Errorf("entry %s: initial connect failed: %v", c.entry.ID, err)
		}
		if _, err := c.Refresh(ctx); err != nil {
			logger.Warnf("entry %s: initial poll failed: %v", c.entry.ID, err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Refresh(ctx); err != nil {
					logger.Warnf("entry %s: poll cycle failed: %v", c.entry.ID, err)
				}
			}
		}
	}()
}

// Close cancels every in-flight poll, scheduled or on-demand, waits for it to
// finish and only then releases the transport connection. Safe to call twice.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.tr.Disconnect(ctx); err != nil {
		logger.Warnf("entry %s: disconnect failed: %v", c.entry.ID, err)
	}
}

// Entry returns the configuration this coordinator was built from.
func (c *Coordinator) Entry() *config.FleetEntry {
	return c.entry.Clone()
}

// Snapshot returns the last published snapshot, nil if none yet.
func (c *Coordinator) Snapshot() *domain.Snapshot {
	return c.snapshot.Load()
}

// Tracked returns the last published snapshot with the monotonic tracker
// applied to every counter. Raw snapshot values stay untouched so they remain
// inspectable for diagnostics.
func (c *Coordinator) Tracked() *domain.Snapshot {
	snap := c.snapshot.Load()
	if snap == nil {
		return nil
	}

	out := *snap
	out.Devices = make(map[string]domain.DeviceRecord, len(snap.Devices))
	for serial, rec := range snap.Devices {
		tracked := rec
		tracked.Sensors = make(map[string]interface{}, len(rec.Sensors))
		for key, value := range rec.Sensors {
			tracked.Sensors[key] = c.track.Apply(serial, key, value)
		}
		if rec.Batteries != nil {
			tracked.Batteries = make(map[string]map[string]interface{}, len(rec.Batteries))
			for batKey, fields := range rec.Batteries {
				trackedFields := make(map[string]interface{}, len(fields))
				for key, value := range fields {
					trackedFields[key] = c.track.Apply(serial+":"+batKey, key, value)
				}
				tracked.Batteries[batKey] = trackedFields
			}
		}
		out.Devices[serial] = tracked
	}
	return &out
}

// Stats for the metrics exporter.
type Stats struct {
	Cycles       uint64
	Failures     uint64
	LastSuccess  time.Time
	DeviceErrors int
	Stale        bool
}

// Stats returns poll-health counters for this entry.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		Cycles:   c.cycles.Load(),
		Failures: c.failures.Load(),
	}
	if nanos := c.lastSuccess.Load(); nanos > 0 {
		s.LastSuccess = time.Unix(0, nanos)
	}
	if snap := c.snapshot.Load(); snap != nil {
		s.Stale = snap.Stale
		for _, rec := range snap.Devices {
			if !rec.Available() {
				s.DeviceErrors++
			}
		}
	}
	return s
}

// Refresh runs one poll cycle, or attaches to the one already in flight:
// concurrent triggers receive the same result instead of starting a second
// cycle. The cycle is registered with the coordinator lifecycle, so Close
// cancels it and waits for it before releasing the transport.
func (c *Coordinator) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &pollCall{done: make(chan struct{})}
	c.inflight = call
	c.wg.Add(1)
	c.mu.Unlock()

	// canceled by whichever dies first, the caller or the coordinator
	pctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)

	call.snap, call.err = c.pollCycle(pctx)

	stop()
	cancel()

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)
	c.wg.Done()

	return call.snap, call.err
}

type pollOutcome struct {
	rec      domain.DeviceRecord
	info     domain.RawPayload
	escalate error
}

func (c *Coordinator) pollCycle(ctx context.Context) (*domain.Snapshot, error) {
	c.cycles.Add(1)

	snap := &domain.Snapshot{
		CycleID:    uuid.NewString(),
		Devices:    make(map[string]domain.DeviceRecord, len(c.entry.Devices)),
		DeviceInfo: make(map[string]domain.RawPayload),
		TakenAt:    time.Now(),
	}

	if c.tr.Kind() == transport.KindHTTP {
		c.pollStation(ctx, snap)
	}

	outcomes := make([]pollOutcome, len(c.entry.Devices))
	if c.tr.SessionSafe() {
		var wg sync.WaitGroup
		for i, dev := range c.entry.Devices {
			wg.Add(1)
			go func(i int, dev config.DeviceConfig) {
				defer wg.Done()
				outcomes[i] = c.pollDevice(ctx, dev)
			}(i, dev)
		}
		wg.Wait()
	} else {
		for i, dev := range c.entry.Devices {
			outcomes[i] = c.pollDevice(ctx, dev)
			if outcomes[i].escalate != nil {
				break
			}
		}
	}

	failed := 0
	for i, dev := range c.entry.Devices {
		out := outcomes[i]
		if out.escalate != nil {
			// session unrecoverable, abort the cycle for cloud-backed devices
			c.failures.Add(1)
			c.markStale()
			return nil, fmt.Errorf("device %s: %w", dev.Serial, out.escalate)
		}
		if !out.rec.Available() {
			failed++
		}
		snap.Devices[out.rec.Serial] = out.rec
		if out.info != nil {
			snap.DeviceInfo[dev.Serial] = out.info
		}
	}

	if len(c.entry.Devices) > 0 && failed == len(c.entry.Devices) {
		c.failures.Add(1)
		c.markStale()
		return nil, ErrCycleFailed
	}

	c.snapshot.Store(snap)
	c.lastSuccess.Store(time.Now().UnixNano())

	for _, sink := range c.sinks {
		sink.Publish(c.entry.ID, snap)
	}
	return snap, nil
}

// markStale keeps the previous good snapshot visible but flags it.
func (c *Coordinator) markStale() {
	if prev := c.snapshot.Load(); prev != nil && !prev.Stale {
		c.snapshot.Store(prev.StaleCopy())
	}
}

func (c *Coordinator) pollStation(ctx context.Context, snap *domain.Snapshot) {
	var raw domain.RawPayload
	err := c.call(ctx, func(cctx context.Context) error {
		var err error
		raw, err = c.tr.ReadStation(cctx)
		return err
	})
	if err != nil {
		logger.Debugf("entry %s: station read failed: %v", c.entry.ID, err)
		return
	}

	fields := mapper.NormalizeStation(raw)
	snap.Station = stationFromSensors(fields)
	if snap.Station != nil && snap.Station.Timezone != "" && c.entry.Timezone == "" {
		if loc, err := time.LoadLocation(snap.Station.Timezone); err == nil {
			c.track.SetLocation(loc)
		}
	}
}

func (c *Coordinator) pollDevice(ctx context.Context, dev config.DeviceConfig) pollOutcome {
	sensors := make(map[string]interface{})
	var batteries map[string]map[string]interface{}

	read := func(fn func(context.Context) (domain.RawPayload, error)) (domain.RawPayload, error) {
		var raw domain.RawPayload
		err := c.call(ctx, func(cctx context.Context) error {
			var err error
			raw, err = fn(cctx)
			return err
		})
		return raw, err
	}

	fail := func(err error) pollOutcome {
		if errors.Is(err, ErrReauthRequired) {
			return pollOutcome{escalate: err}
		}
		if transport.IsDecoding(err) {
			logger.Errorf("entry %s device %s: %v", c.entry.ID, dev.Serial, err)
		} else {
			logger.Warnf("entry %s device %s: %v", c.entry.ID, dev.Serial, err)
		}
		return pollOutcome{rec: domain.DeviceRecord{
			Serial:          dev.Serial,
			Type:            dev.Type,
			Model:           dev.Model,
			FirmwareVersion: firmwareFallback,
			Sensors:         map[string]interface{}{},
			Error:           err.Error(),
		}}
	}

	kind := c.tr.Kind()

	switch dev.Type {
	case domain.DeviceGridBoss:
		raw, err := read(func(cctx context.Context) (domain.RawPayload, error) {
			return c.tr.ReadMidbox(cctx, dev.Serial)
		})
		if err != nil {
			return fail(err)
		}
		for k, v := range mapper.Normalize(kind, raw) {
			sensors[k] = v
		}

	case domain.DeviceParallelGroup:
		var units uint16
		err := c.call(ctx, func(cctx context.Context) error {
			var err error
			units, err = c.tr.ReadParallelConfig(cctx, dev.Serial)
			return err
		})
		if err != nil {
			return fail(err)
		}
		sensors["parallel_units"] = float64(units)

		raw, err := read(func(cctx context.Context) (domain.RawPayload, error) {
			return c.tr.ReadEnergy(cctx, dev.Serial)
		})
		if err != nil {
			return fail(err)
		}
		for k, v := range mapper.Normalize(kind, raw) {
			sensors[k] = v
		}

	default: // inverter
		runtime, err := read(func(cctx context.Context) (domain.RawPayload, error) {
			return c.tr.ReadRuntime(cctx, dev.Serial)
		})
		if err != nil {
			return fail(err)
		}
		energy, err := read(func(cctx context.Context) (domain.RawPayload, error) {
			return c.tr.ReadEnergy(cctx, dev.Serial)
		})
		if err != nil {
			return fail(err)
		}
		battery, err := read(func(cctx context.Context) (domain.RawPayload, error) {
			return c.tr.ReadBattery(cctx, dev.Serial)
		})
		if err != nil {
			return fail(err)
		}

		for k, v := range mapper.Normalize(kind, runtime) {
			sensors[k] = v
		}
		for k, v := range mapper.Normalize(kind, energy) {
			sensors[k] = v
		}
		batteries = mapper.NormalizeBattery(battery)
	}

	out := pollOutcome{rec: assembleDevice(dev, sensors, batteries)}

	// best effort, purely diagnostic
	var typeCode int
	if err := c.call(ctx, func(cctx context.Context) error {
		var err error
		typeCode, err = c.tr.ReadDeviceType(cctx, dev.Serial)
		return err
	}); err == nil {
		out.info = domain.RawPayload{"device_type_code": typeCode}
	}

	return out
}

// call runs one transport call with a timeout. An auth failure triggers one
// transparent reauthentication and retry; a second auth failure escalates to
// ErrReauthRequired.
func (c *Coordinator) call(ctx context.Context, fn func(context.Context) error) error {
	run := func() error {
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		return fn(cctx)
	}

	err := run()
	if err == nil || !transport.IsAuth(err) {
		return err
	}

	logger.Infof("entry %s: session expired, reauthenticating", c.entry.ID)
	rctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	rerr := c.tr.Reauthenticate(rctx)
	cancel()
	if rerr != nil {
		return fmt.Errorf("%w: %v", ErrReauthRequired, rerr)
	}

	err = run()
	if err != nil && transport.IsAuth(err) {
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}
	return err
}

func (c *Coordinator) connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.tr.Connect(cctx)
}
