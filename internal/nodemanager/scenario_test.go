package nodemanager

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/policy"
	"github.com/cuemby/fleetd/internal/provider"
	"github.com/cuemby/fleetd/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelemetry reports a fixed snapshot per address, regardless of which
// metric method is called, with one metric optionally forced to time out.
type fakeTelemetry struct {
	snapshots map[string]fleet.TelemetrySnapshot
	timeout   map[string]bool // address -> cpuTemperature call fails
}

func (f *fakeTelemetry) CPUTemperature(_ context.Context, address string) (float64, error) {
	if f.timeout[address] {
		return 0, assertUnavailable{}
	}
	return val(f.snapshots[address].CPUTemperature), nil
}
func (f *fakeTelemetry) MemoryPageFaults(_ context.Context, address string) (float64, error) {
	return val(f.snapshots[address].MemoryPageFaults), nil
}
func (f *fakeTelemetry) AvailableMemoryMB(_ context.Context, address string) (float64, error) {
	return val(f.snapshots[address].AvailableMemoryMB), nil
}
func (f *fakeTelemetry) NetworkBandwidthUtilization(_ context.Context, address, _ string) (float64, error) {
	return val(f.snapshots[address].NetworkBandwidthUtilization), nil
}
func (f *fakeTelemetry) DiskLatency(_ context.Context, address, _ string) (float64, error) {
	return val(f.snapshots[address].DiskLatency), nil
}
func (f *fakeTelemetry) GPUMetrics(_ context.Context, address string, _ int) (map[string]float64, error) {
	return f.snapshots[address].GPUMetrics, nil
}

type assertUnavailable struct{}

func (assertUnavailable) Error() string { return "unavailable" }

func val(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func f64(v float64) *float64 { return &v }

func nominal() fleet.TelemetrySnapshot {
	return fleet.TelemetrySnapshot{
		CPUTemperature:              f64(50),
		MemoryPageFaults:            f64(10),
		AvailableMemoryMB:           f64(2048),
		NetworkBandwidthUtilization: f64(10),
		DiskLatency:                 f64(3),
		GPUMetrics:                  map[string]float64{fleet.GPUUsage: 30},
	}
}

type fakeProvider struct {
	provider fleet.Provider
	created  []provider.Spec
	deleted  []string
	createFn func(spec provider.Spec) (provider.CreateResult, error)
	deleteFn func(instanceID string) error
}

func (p *fakeProvider) Provider() fleet.Provider { return p.provider }

func (p *fakeProvider) CreateInstance(_ context.Context, spec provider.Spec) (provider.CreateResult, error) {
	p.created = append(p.created, spec)
	if p.createFn != nil {
		return p.createFn(spec)
	}
	return provider.CreateResult{InstanceID: uuid.New().String(), Address: "10.0.0.99"}, nil
}

func (p *fakeProvider) DeleteInstance(_ context.Context, instanceID string) error {
	p.deleted = append(p.deleted, instanceID)
	if p.deleteFn != nil {
		return p.deleteFn(instanceID)
	}
	return nil
}

func setup(t *testing.T, snapshots map[string]fleet.TelemetrySnapshot) (*NodeManager, *registry.Registry, *fakeProvider, *fakeTelemetry) {
	t.Helper()
	reg := registry.New(2, zerolog.Nop())
	fp := &fakeProvider{provider: fleet.ProviderAWS}
	providers := provider.Registry{fleet.ProviderAWS: fp}
	ft := &fakeTelemetry{snapshots: snapshots, timeout: map[string]bool{}}
	pol := policy.New(fleet.DefaultThresholds())

	nm := New(Config{MonitorInterval: time.Hour}, reg, ft, pol, providers, nil)
	return nm, reg, fp, ft
}

// S1 — single host over cpu temperature threshold scales up.
func TestScenarioS1CPUTemperatureScaleUp(t *testing.T) {
	snap := nominal()
	snap.CPUTemperature = f64(85)
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap})

	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS}))

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	require.Len(t, fp.created, 1)
	_, err := reg.Get("10.0.0.99")
	require.NoError(t, err)
	_, err = reg.Get("10.0.0.1")
	assert.Error(t, err)
}

// S2 — GPU usage over threshold scales up.
func TestScenarioS2GPUUsageScaleUp(t *testing.T) {
	snap := nominal()
	snap.GPUMetrics[fleet.GPUUsage] = 95
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap})
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS}))

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	require.Len(t, fp.created, 1)
}

// S3 — nominal-low host scales down.
func TestScenarioS3ScaleDown(t *testing.T) {
	snap := fleet.TelemetrySnapshot{
		CPUTemperature:    f64(25),
		AvailableMemoryMB: f64(8192),
		DiskLatency:       f64(1.0),
		GPUMetrics:        map[string]float64{fleet.GPUUsage: 10},
	}
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap})
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS, ProviderInstanceID: "i-old"}))

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	require.Len(t, fp.deleted, 1)
	assert.Equal(t, "i-old", fp.deleted[0])
	_, err := reg.Get("10.0.0.1")
	assert.Error(t, err)
}

// S4 — cpuTemperature times out but memoryPageFaults exceeds threshold: Up.
func TestScenarioS4PartialTimeoutStillTriggersUp(t *testing.T) {
	snap := nominal()
	snap.MemoryPageFaults = f64(1500)
	nm, reg, fp, ft := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap})
	ft.timeout["10.0.0.1"] = true
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS}))

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	require.Len(t, fp.created, 1)
}

// S5 — leadership lost mid-pass: drain aborts, no provider calls happen
// for the queue not yet drained.
func TestScenarioS5LeadershipLostMidPassAbortsDrain(t *testing.T) {
	snap := nominal()
	snap.CPUTemperature = f64(85)
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap, "10.0.0.2": snap})
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "a", Provider: fleet.ProviderAWS}))
	require.NoError(t, reg.Put("10.0.0.2", registry.Entry{WorkloadName: "b", Provider: fleet.ProviderAWS}))

	stopCh := make(chan struct{})
	close(stopCh) // leadership already lost before drain starts

	err := nm.monitorPass(stopCh)
	require.Error(t, err)
	assert.Empty(t, fp.created)
}

func TestNominalSnapshotProducesNoDecision(t *testing.T) {
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": nominal()})
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS}))

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	assert.Empty(t, fp.created)
	assert.Empty(t, fp.deleted)
}

// Testable property 8 — provider idempotence on retry: a create that fails
// transiently once, then succeeds on the retried attempt, results in
// exactly one registered host, not zero and not two.
func TestTransientCreateFailureThenSuccessRegistersExactlyOneHost(t *testing.T) {
	snap := nominal()
	snap.CPUTemperature = f64(85)
	nm, reg, fp, _ := setup(t, map[string]fleet.TelemetrySnapshot{"10.0.0.1": snap})
	require.NoError(t, reg.Put("10.0.0.1", registry.Entry{WorkloadName: "web", Provider: fleet.ProviderAWS}))

	attempt := 0
	fp.createFn = func(spec provider.Spec) (provider.CreateResult, error) {
		attempt++
		if attempt == 1 {
			return provider.CreateResult{}, ctlerr.Transient("fakeProvider.create", assertUnavailable{})
		}
		return provider.CreateResult{InstanceID: uuid.New().String(), Address: "10.0.0.99"}, nil
	}

	require.NoError(t, nm.monitorPass(make(chan struct{})))

	assert.Equal(t, 2, attempt, "expected exactly one retry after the transient failure")
	require.Len(t, fp.created, 2)

	_, err := reg.Get("10.0.0.99")
	require.NoError(t, err, "the host must be registered after the retried create succeeds")
	_, err = reg.Get("10.0.0.1")
	assert.Error(t, err, "the old host must be deregistered exactly once")
}
