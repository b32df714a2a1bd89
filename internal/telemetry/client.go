// Package telemetry implements the TelemetryClient: a transport-polymorphic
// fetcher of per-host metric families, fed into a TelemetrySnapshot.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/obsmetrics"
	"github.com/cuemby/fleetd/internal/telemetry/rpc"
)

// RemoteClient implements Client by dispatching over gRPC to every known
// agent address and summing contributions, per the fan-in/fan-out RPC
// pattern: only the agent matching the requested host address reports a
// non-zero value.
type RemoteClient = rpc.Fanout

// Client is the TelemetryClient contract. Every method may return a
// ctlerr error of kind KindTransient (reported to callers as
// "Unavailable"); FetchSnapshot treats a single such failure as "metric
// unknown" rather than aborting the whole snapshot.
type Client interface {
	CPUTemperature(ctx context.Context, address string) (float64, error)
	MemoryPageFaults(ctx context.Context, address string) (float64, error)
	AvailableMemoryMB(ctx context.Context, address string) (float64, error)
	NetworkBandwidthUtilization(ctx context.Context, address, iface string) (float64, error)
	DiskLatency(ctx context.Context, address, device string) (float64, error)
	GPUMetrics(ctx context.Context, address string, gpuIndex int) (map[string]float64, error)
}

// Defaults for the primary interface/device names used when fetching the
// single-valued metrics the ScalingPolicy evaluates.
const (
	PrimaryInterface = "eth0"
	PrimaryDevice    = "sda"
	PrimaryGPUIndex  = 0
)

// DefaultTimeout is the per-call deadline FetchSnapshot applies to every
// call (5s); an earlier deadline already on the caller's context still wins.
const DefaultTimeout = 5 * time.Second

// FetchSnapshot collects all six metric families for address concurrently,
// applying DefaultTimeout to each call, and merges them into a
// TelemetrySnapshot. A failing call leaves the corresponding field nil
// (unknown) rather than failing the whole snapshot.
func FetchSnapshot(ctx context.Context, c Client, address string) fleet.TelemetrySnapshot {
	snap := fleet.TelemetrySnapshot{Address: address, GPUMetrics: map[string]float64{}}

	var wg sync.WaitGroup
	var mu sync.Mutex

	fetch := func(fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
			defer cancel()
			timer := obsmetrics.NewTimer()
			err := fn(cctx)
			outcome := "ok"
			if err != nil {
				outcome = "unavailable"
			}
			timer.ObserveDurationVec(obsmetrics.TelemetryFetchDuration, outcome)
		}()
	}

	fetch(func(cctx context.Context) error {
		v, err := c.CPUTemperature(cctx, address)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.CPUTemperature = &v
		mu.Unlock()
		return nil
	})
	fetch(func(cctx context.Context) error {
		v, err := c.MemoryPageFaults(cctx, address)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.MemoryPageFaults = &v
		mu.Unlock()
		return nil
	})
	fetch(func(cctx context.Context) error {
		v, err := c.AvailableMemoryMB(cctx, address)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.AvailableMemoryMB = &v
		mu.Unlock()
		return nil
	})
	fetch(func(cctx context.Context) error {
		v, err := c.NetworkBandwidthUtilization(cctx, address, PrimaryInterface)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.NetworkBandwidthUtilization = &v
		mu.Unlock()
		return nil
	})
	fetch(func(cctx context.Context) error {
		v, err := c.DiskLatency(cctx, address, PrimaryDevice)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.DiskLatency = &v
		mu.Unlock()
		return nil
	})
	fetch(func(cctx context.Context) error {
		v, err := c.GPUMetrics(cctx, address, PrimaryGPUIndex)
		if err != nil {
			return err
		}
		mu.Lock()
		for k, val := range v {
			snap.GPUMetrics[k] = val
		}
		mu.Unlock()
		return nil
	})

	wg.Wait()
	return snap
}

// HostTelemetry is the out-of-scope OS/NVML probe collaborator: whatever
// reads real metrics off the local machine. LocalClient adapts it to the
// Client interface.
type HostTelemetry interface {
	CPUTemperature() (float64, error)
	MemoryPageFaults() (float64, error)
	AvailableMemoryMB() (float64, error)
	NetworkBandwidthUtilization(iface string) (float64, error)
	DiskLatency(device string) (float64, error)
	GPUMetrics(gpuIndex int) (map[string]float64, error)
}

// LocalClient implements Client by calling OS/NVML probes directly,
// ignoring the address argument (it always reports on the local host).
type LocalClient struct {
	Probe HostTelemetry
}

func (l *LocalClient) CPUTemperature(_ context.Context, _ string) (float64, error) {
	return wrap(l.Probe.CPUTemperature())
}

func (l *LocalClient) MemoryPageFaults(_ context.Context, _ string) (float64, error) {
	return wrap(l.Probe.MemoryPageFaults())
}

func (l *LocalClient) AvailableMemoryMB(_ context.Context, _ string) (float64, error) {
	return wrap(l.Probe.AvailableMemoryMB())
}

func (l *LocalClient) NetworkBandwidthUtilization(_ context.Context, _ string, iface string) (float64, error) {
	return wrap(l.Probe.NetworkBandwidthUtilization(iface))
}

func (l *LocalClient) DiskLatency(_ context.Context, _ string, device string) (float64, error) {
	return wrap(l.Probe.DiskLatency(device))
}

func (l *LocalClient) GPUMetrics(_ context.Context, _ string, gpuIndex int) (map[string]float64, error) {
	m, err := l.Probe.GPUMetrics(gpuIndex)
	if err != nil {
		return nil, ctlerr.Transient("telemetry.local.gpuMetrics", err)
	}
	return m, nil
}

func wrap(v float64, err error) (float64, error) {
	if err != nil {
		return 0, ctlerr.Transient("telemetry.local", err)
	}
	return v, nil
}
