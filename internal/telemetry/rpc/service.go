// Package rpc is the hand-rolled gRPC service definition carrying the
// fan-in/fan-out telemetry RPC described in the controller's external
// interface contract. It avoids protoc-generated message types by
// transporting plain Go structs through the JSON codec registered in
// internal/rpcjson, invoked via grpc.CallContentSubtype("json").
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// MetricRequest carries (targetAddress, parameters...) for every
// single-valued metric family. Only the agent whose own address equals
// TargetAddress computes a real value; every other agent returns a zero
// Value so the coordinator's sum across all agents equals the one real
// contribution.
type MetricRequest struct {
	TargetAddress string
	Interface     string // used by NetworkBandwidthUtilization
	Device        string // used by DiskLatency
}

// MetricResponse carries a single floating-point contribution.
type MetricResponse struct {
	Value float64
}

// GPUMetricsRequest carries (targetAddress, gpuIndex).
type GPUMetricsRequest struct {
	TargetAddress string
	GPUIndex      int
}

// GPUMetricsResponse carries a structured contribution: empty from every
// agent except the one matching TargetAddress.
type GPUMetricsResponse struct {
	Values map[string]float64
}

// Handler is implemented by an agent process: it answers the six metric
// RPCs, returning a real value only when the request's TargetAddress
// matches its own address.
type Handler interface {
	CPUTemperature(ctx context.Context, req *MetricRequest) (*MetricResponse, error)
	MemoryPageFaults(ctx context.Context, req *MetricRequest) (*MetricResponse, error)
	AvailableMemoryMB(ctx context.Context, req *MetricRequest) (*MetricResponse, error)
	NetworkBandwidthUtilization(ctx context.Context, req *MetricRequest) (*MetricResponse, error)
	DiskLatency(ctx context.Context, req *MetricRequest) (*MetricResponse, error)
	GPUMetrics(ctx context.Context, req *GPUMetricsRequest) (*GPUMetricsResponse, error)
}

// ServiceName is the gRPC service name agents register Handler under.
const ServiceName = "fleetd.telemetry.v1.Telemetry"

func cpuTemperatureHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(MetricRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).CPUTemperature(ctx, req)
}

func memoryPageFaultsHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(MetricRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).MemoryPageFaults(ctx, req)
}

func availableMemoryMBHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(MetricRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).AvailableMemoryMB(ctx, req)
}

func networkBandwidthUtilizationHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(MetricRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).NetworkBandwidthUtilization(ctx, req)
}

func diskLatencyHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(MetricRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).DiskLatency(ctx, req)
}

func gpuMetricsHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(GPUMetricsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Handler).GPUMetrics(ctx, req)
}

// ServiceDesc is registered against a *grpc.Server via RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CPUTemperature", Handler: cpuTemperatureHandler},
		{MethodName: "MemoryPageFaults", Handler: memoryPageFaultsHandler},
		{MethodName: "AvailableMemoryMB", Handler: availableMemoryMBHandler},
		{MethodName: "NetworkBandwidthUtilization", Handler: networkBandwidthUtilizationHandler},
		{MethodName: "DiskLatency", Handler: diskLatencyHandler},
		{MethodName: "GPUMetrics", Handler: gpuMetricsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/telemetry/rpc/service.go",
}

// RegisterHandler registers impl against s under the Telemetry service.
func RegisterHandler(s *grpc.Server, impl Handler) {
	s.RegisterService(&ServiceDesc, impl)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
