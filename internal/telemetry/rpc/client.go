package rpc

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/rpcjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Name is the registered JSON content-subtype this package's RPCs are
// invoked with, so both the Fanout client and an Agent server negotiate
// the same wire codec without either importing the other.
const Name = rpcjson.Name

// Fanout dials every address in peers and invokes the named RPC against
// each, summing the returned contributions. Only the agent whose own
// address equals targetAddress is expected to report a non-zero value, so
// the sum equals that single contribution; a fully unreachable fan-out (no
// peer could be dialed) is reported as a transient "Unavailable" error.
type Fanout struct {
	Peers       []string
	DialOptions []grpc.DialOption
}

func (f *Fanout) dial(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	}
	opts = append(opts, f.DialOptions...)
	return grpc.NewClient(addr, opts...)
}

func (f *Fanout) invokeMetric(ctx context.Context, method string, req *MetricRequest) (float64, error) {
	var sum float64
	var reached int

	for _, peer := range f.Peers {
		conn, err := f.dial(ctx, peer)
		if err != nil {
			continue
		}
		resp := new(MetricResponse)
		err = conn.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(Name))
		_ = conn.Close()
		if err != nil {
			continue
		}
		reached++
		sum += resp.Value
	}

	if reached == 0 {
		return 0, ctlerr.Transient("telemetry.rpc."+method, fmt.Errorf("no peer reachable for %s", req.TargetAddress))
	}
	return sum, nil
}

func (f *Fanout) CPUTemperature(ctx context.Context, address string) (float64, error) {
	return f.invokeMetric(ctx, "CPUTemperature", &MetricRequest{TargetAddress: address})
}

func (f *Fanout) MemoryPageFaults(ctx context.Context, address string) (float64, error) {
	return f.invokeMetric(ctx, "MemoryPageFaults", &MetricRequest{TargetAddress: address})
}

func (f *Fanout) AvailableMemoryMB(ctx context.Context, address string) (float64, error) {
	return f.invokeMetric(ctx, "AvailableMemoryMB", &MetricRequest{TargetAddress: address})
}

func (f *Fanout) NetworkBandwidthUtilization(ctx context.Context, address, iface string) (float64, error) {
	return f.invokeMetric(ctx, "NetworkBandwidthUtilization", &MetricRequest{TargetAddress: address, Interface: iface})
}

func (f *Fanout) DiskLatency(ctx context.Context, address, device string) (float64, error) {
	return f.invokeMetric(ctx, "DiskLatency", &MetricRequest{TargetAddress: address, Device: device})
}

func (f *Fanout) GPUMetrics(ctx context.Context, address string, gpuIndex int) (map[string]float64, error) {
	merged := make(map[string]float64)
	reached := 0

	for _, peer := range f.Peers {
		conn, err := f.dial(ctx, peer)
		if err != nil {
			continue
		}
		req := &GPUMetricsRequest{TargetAddress: address, GPUIndex: gpuIndex}
		resp := new(GPUMetricsResponse)
		err = conn.Invoke(ctx, fullMethod("GPUMetrics"), req, resp, grpc.CallContentSubtype(Name))
		_ = conn.Close()
		if err != nil {
			continue
		}
		reached++
		for k, v := range resp.Values {
			merged[k] += v
		}
	}

	if reached == 0 {
		return nil, ctlerr.Transient("telemetry.rpc.GPUMetrics", fmt.Errorf("no peer reachable for %s", address))
	}
	return merged, nil
}
