package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeProbe struct {
	cpuTemp float64
}

func (f fakeProbe) CPUTemperature() (float64, error)                        { return f.cpuTemp, nil }
func (f fakeProbe) MemoryPageFaults() (float64, error)                      { return 10, nil }
func (f fakeProbe) AvailableMemoryMB() (float64, error)                     { return 2048, nil }
func (f fakeProbe) NetworkBandwidthUtilization(iface string) (float64, error) { return 5, nil }
func (f fakeProbe) DiskLatency(device string) (float64, error)              { return 1, nil }
func (f fakeProbe) GPUMetrics(gpuIndex int) (map[string]float64, error) {
	return map[string]float64{"GpuUsage": 30}, nil
}

func startAgent(t *testing.T, address string, probe AgentProbe) (peerAddr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterHandler(srv, &Agent{Address: address, Probe: probe})

	go func() { _ = srv.Serve(lis) }()

	return lis.Addr().String(), srv.Stop
}

func TestFanoutSumsOnlyMatchingAgentContribution(t *testing.T) {
	addrA, stopA := startAgent(t, "10.0.0.1", fakeProbe{cpuTemp: 85})
	defer stopA()
	addrB, stopB := startAgent(t, "10.0.0.2", fakeProbe{cpuTemp: 99})
	defer stopB()

	f := &Fanout{Peers: []string{addrA, addrB}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := f.CPUTemperature(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 85.0, v)

	v, err = f.CPUTemperature(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, 99.0, v)
}

func TestFanoutGPUMetricsOnlyFromMatchingAgent(t *testing.T) {
	addrA, stopA := startAgent(t, "10.0.0.1", fakeProbe{})
	defer stopA()

	f := &Fanout{Peers: []string{addrA}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := f.GPUMetrics(ctx, "10.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, 30.0, m["GpuUsage"])
}

func TestFanoutUnreachableIsTransient(t *testing.T) {
	f := &Fanout{Peers: []string{"127.0.0.1:1"}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := f.CPUTemperature(ctx, "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, ctlerr.Is(err, ctlerr.KindTransient))
}
