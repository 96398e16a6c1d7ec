package transition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlink/internal/config"
	"fleetlink/internal/domain"
	"fleetlink/internal/transport"
)

// probeTransport is the throwaway transport handed out for connectivity
// probes. Only Connect and ReadDeviceType matter.
type probeTransport struct {
	connectErr error
	typeErr    error
}

func (p *probeTransport) Connect(ctx context.Context) error        { return p.connectErr }
func (p *probeTransport) Disconnect(ctx context.Context) error     { return nil }
func (p *probeTransport) Reauthenticate(ctx context.Context) error { return nil }
func (p *probeTransport) SessionSafe() bool                        { return true }
func (p *probeTransport) Kind() transport.Kind                     { return transport.KindModbus }

func (p *probeTransport) ReadRuntime(ctx context.Context, serial string) (domain.RawPayload, error) {
	return nil, nil
}
func (p *probeTransport) ReadEnergy(ctx context.Context, serial string) (domain.RawPayload, error) {
	return nil, nil
}
func (p *probeTransport) ReadBattery(ctx context.Context, serial string) (domain.RawPayload, error) {
	return nil, nil
}
func (p *probeTransport) ReadMidbox(ctx context.Context, serial string) (domain.RawPayload, error) {
	return nil, nil
}
func (p *probeTransport) ReadDeviceType(ctx context.Context, serial string) (int, error) {
	return 4, p.typeErr
}
func (p *probeTransport) ReadFirmwareVersion(ctx context.Context, serial string) (string, error) {
	return "", nil
}
func (p *probeTransport) ReadParallelConfig(ctx context.Context, serial string) (uint16, error) {
	return 0, nil
}
func (p *probeTransport) ReadStation(ctx context.Context) (domain.RawPayload, error) {
	return domain.RawPayload{}, nil
}

type fakeFactory struct {
	mu       sync.Mutex
	buildErr error
	tr       *probeTransport
	probed   []*config.FleetEntry
}

func (f *fakeFactory) New(entry *config.FleetEntry) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, entry)
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if f.tr == nil {
		return &probeTransport{}, nil
	}
	return f.tr, nil
}

type fakeReloader struct {
	mu       sync.Mutex
	reloaded []string
	err      error
}

func (r *fakeReloader) Reload(ctx context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloaded = append(r.reloaded, entryID)
	return r.err
}

func cloudEntry() *config.FleetEntry {
	return &config.FleetEntry{
		ID:   "entry-1",
		Name: "Test Site",
		Mode: config.ModeCloud,
		Cloud: &config.CloudCredentials{
			Username: "user",
			Password: "secret",
			PlantID:  "plant-9",
		},
		PollInterval: 30 * time.Second,
		Devices: []config.DeviceConfig{
			{Serial: "SN1", Type: domain.DeviceInverter},
		},
	}
}

func hybridEntry() *config.FleetEntry {
	e := cloudEntry()
	e.Mode = config.ModeHybrid
	e.Local = &config.LocalConfig{Kind: config.LocalModbus, Host: "10.0.0.5", Port: 502}
	e.PollInterval = 5 * time.Second
	return e
}

func newTestRouter(t *testing.T, entry *config.FleetEntry) (*Router, *config.MemoryStore, *fakeFactory, *fakeReloader) {
	t.Helper()
	store := config.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), entry))
	factory := &fakeFactory{}
	reloader := &fakeReloader{}
	return NewRouter(store, factory, reloader), store, factory, reloader
}

func TestCloudToHybridFullFlow(t *testing.T) {
	ctx := context.Background()
	router, store, factory, reloader := newTestRouter(t, cloudEntry())

	id, res, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, StepSelectLocalType, res.NextStep)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "local_type", res.Fields[0].Name)

	res, err = router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "modbus"})
	require.NoError(t, err)
	assert.Equal(t, StepModbusConfig, res.NextStep)

	res, err = router.Step(ctx, id, StepModbusConfig, map[string]string{"host": "10.0.0.5", "port": "502"})
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, res.NextStep)
	assert.Contains(t, res.Warnings, "polling interval will change from 30s to 5s")

	// the probe ran against a throwaway entry carrying the candidate config
	factory.mu.Lock()
	require.Len(t, factory.probed, 1)
	probe := factory.probed[0]
	factory.mu.Unlock()
	require.NotNil(t, probe.Local)
	assert.Equal(t, "10.0.0.5", probe.Local.Host)

	// nothing persisted before confirmation
	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeCloud, stored.Mode)
	assert.Nil(t, stored.Local)

	res, err = router.Step(ctx, id, StepConfirm, map[string]string{"confirm": "true"})
	require.NoError(t, err)
	assert.True(t, res.Done)

	stored, err = store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeHybrid, stored.Mode)
	require.NotNil(t, stored.Local)
	assert.Equal(t, config.LocalModbus, stored.Local.Kind)
	assert.Equal(t, "10.0.0.5", stored.Local.Host)
	assert.Equal(t, 502, stored.Local.Port)
	assert.Equal(t, 5*time.Second, stored.PollInterval)

	// cloud credentials survive the transition untouched
	require.NotNil(t, stored.Cloud)
	assert.Equal(t, "user", stored.Cloud.Username)
	assert.Equal(t, "secret", stored.Cloud.Password)
	assert.Equal(t, "plant-9", stored.Cloud.PlantID)

	reloader.mu.Lock()
	assert.Equal(t, []string{"entry-1"}, reloader.reloaded)
	reloader.mu.Unlock()

	// the workflow closed on Done
	_, err = router.Step(ctx, id, StepConfirm, map[string]string{"confirm": "true"})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestInvalidLocalTypeReasksSameStep(t *testing.T) {
	ctx := context.Background()
	router, _, _, _ := newTestRouter(t, cloudEntry())

	id, _, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)

	res, err := router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "zigbee"})
	require.NoError(t, err)
	assert.Equal(t, StepSelectLocalType, res.NextStep)
	assert.Equal(t, "invalid", res.Errors["local_type"])
}

func TestMissingFieldsKeepOperatorInput(t *testing.T) {
	ctx := context.Background()
	router, _, _, _ := newTestRouter(t, cloudEntry())

	id, _, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)
	_, err = router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "dongle"})
	require.NoError(t, err)

	res, err := router.Step(ctx, id, StepDongleConfig, map[string]string{
		"host": "10.0.0.9",
		"port": "8000",
	})
	require.NoError(t, err)
	assert.Equal(t, StepDongleConfig, res.NextStep)
	assert.Equal(t, "required", res.Errors["dongle_serial"])

	// the host the operator already typed comes back as a default
	var hostDefault string
	for _, f := range res.Fields {
		if f.Name == "host" {
			hostDefault = f.Default
		}
	}
	assert.Equal(t, "10.0.0.9", hostDefault)
}

func TestProbeFailureSurfacesErrorCode(t *testing.T) {
	ctx := context.Background()
	router, store, factory, _ := newTestRouter(t, cloudEntry())
	factory.tr = &probeTransport{connectErr: &transport.ConnectionError{Op: "connect", Err: errors.New("refused")}}

	id, _, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)
	_, err = router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "modbus"})
	require.NoError(t, err)

	res, err := router.Step(ctx, id, StepModbusConfig, map[string]string{"host": "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, StepModbusConfig, res.NextStep)
	assert.Equal(t, "connection_failed", res.Errors["base"])

	// a failed probe persists nothing
	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeCloud, stored.Mode)
}

func TestProbeErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"driver missing", transport.ErrDriverNotInstalled, "not_installed"},
		{"connection", &transport.ConnectionError{Op: "dial", Err: errors.New("refused")}, "connection_failed"},
		{"auth", &transport.AuthError{Op: "login", Err: errors.New("rejected")}, "invalid_auth"},
		{"other", errors.New("boom"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probeErrorCode(tt.err))
		})
	}
}

func TestHybridToCloudRemovesLocalKeepsCloud(t *testing.T) {
	ctx := context.Background()
	router, store, _, reloader := newTestRouter(t, hybridEntry())

	id, res, err := router.Start(ctx, "entry-1", config.ModeCloud)
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, res.NextStep)
	assert.Contains(t, res.Warnings, "local transport configuration will be removed")
	assert.Contains(t, res.Warnings, "polling interval will change from 5s to 30s")

	res, err = router.Step(ctx, id, StepConfirm, map[string]string{"confirm": "true"})
	require.NoError(t, err)
	assert.True(t, res.Done)

	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeCloud, stored.Mode)
	assert.Nil(t, stored.Local)
	assert.Equal(t, 30*time.Second, stored.PollInterval)
	require.NotNil(t, stored.Cloud)
	assert.Equal(t, "secret", stored.Cloud.Password)

	reloader.mu.Lock()
	assert.Equal(t, []string{"entry-1"}, reloader.reloaded)
	reloader.mu.Unlock()
}

func TestLocalSwapReplacesTransportOnly(t *testing.T) {
	ctx := context.Background()
	router, store, _, _ := newTestRouter(t, hybridEntry())

	id, res, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, StepSelectLocalType, res.NextStep)

	_, err = router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "dongle"})
	require.NoError(t, err)

	res, err = router.Step(ctx, id, StepDongleConfig, map[string]string{
		"host":          "10.0.0.9",
		"dongle_serial": "DG123",
	})
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, res.NextStep)

	res, err = router.Step(ctx, id, StepConfirm, map[string]string{"confirm": "true"})
	require.NoError(t, err)
	assert.True(t, res.Done)

	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	// mode and cloud credentials are untouched, only the local endpoint moved
	assert.Equal(t, config.ModeHybrid, stored.Mode)
	require.NotNil(t, stored.Cloud)
	assert.Equal(t, "user", stored.Cloud.Username)
	require.NotNil(t, stored.Local)
	assert.Equal(t, config.LocalDongle, stored.Local.Kind)
	assert.Equal(t, "10.0.0.9", stored.Local.Host)
	assert.Equal(t, 8000, stored.Local.Port)
	assert.Equal(t, "DG123", stored.Local.DongleSerial)
}

func TestAbandonPersistsNothing(t *testing.T) {
	ctx := context.Background()
	router, store, _, reloader := newTestRouter(t, cloudEntry())

	id, _, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	require.NoError(t, err)
	_, err = router.Step(ctx, id, StepSelectLocalType, map[string]string{"local_type": "modbus"})
	require.NoError(t, err)
	_, err = router.Step(ctx, id, StepModbusConfig, map[string]string{"host": "10.0.0.5"})
	require.NoError(t, err)

	require.NoError(t, router.Abandon(id))

	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeCloud, stored.Mode)
	assert.Nil(t, stored.Local)

	reloader.mu.Lock()
	assert.Empty(t, reloader.reloaded)
	reloader.mu.Unlock()

	_, err = router.Step(ctx, id, StepConfirm, map[string]string{"confirm": "true"})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, router.Abandon(id), ErrWorkflowNotFound)
}

func TestUnsupportedTransition(t *testing.T) {
	ctx := context.Background()
	router, _, _, _ := newTestRouter(t, cloudEntry())

	_, _, err := router.Start(ctx, "entry-1", config.ModeLocal)
	assert.ErrorIs(t, err, ErrUnsupportedTransition)
}

func TestPreconditionRejectsMissingCredentials(t *testing.T) {
	ctx := context.Background()
	entry := cloudEntry()
	entry.Cloud = nil
	router, _, _, _ := newTestRouter(t, entry)

	_, _, err := router.Start(ctx, "entry-1", config.ModeHybrid)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestConfirmRequiresExplicitAcknowledgement(t *testing.T) {
	ctx := context.Background()
	router, store, _, _ := newTestRouter(t, hybridEntry())

	id, _, err := router.Start(ctx, "entry-1", config.ModeCloud)
	require.NoError(t, err)

	res, err := router.Step(ctx, id, StepConfirm, map[string]string{})
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, "required", res.Errors["confirm"])
	assert.NotEmpty(t, res.Warnings)

	stored, err := store.Get(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, config.ModeHybrid, stored.Mode)
}

func TestPortValidation(t *testing.T) {
	cfg, fieldErrors := parseLocalConfig(config.LocalModbus, map[string]string{
		"host": "10.0.0.5",
		"port": "99999",
	})
	assert.Nil(t, cfg)
	assert.Equal(t, "invalid_port", fieldErrors["port"])

	cfg, fieldErrors = parseLocalConfig(config.LocalModbus, map[string]string{"host": "10.0.0.5"})
	require.Nil(t, fieldErrors)
	assert.Equal(t, 502, cfg.Port)
}
