package rpc

import "context"

// AgentProbe is the local OS/NVML probe collaborator an agent process
// reads real metrics from. Its method set matches telemetry.HostTelemetry
// by construction so the same concrete probe type can satisfy both without
// this package importing telemetry (which would create an import cycle,
// since telemetry imports rpc for RemoteClient).
type AgentProbe interface {
	CPUTemperature() (float64, error)
	MemoryPageFaults() (float64, error)
	AvailableMemoryMB() (float64, error)
	NetworkBandwidthUtilization(iface string) (float64, error)
	DiskLatency(device string) (float64, error)
	GPUMetrics(gpuIndex int) (map[string]float64, error)
}

// Agent implements Handler for a single host: it answers a metric RPC with
// a real value only when the request's TargetAddress matches its own
// address, and zero otherwise, producing the fan-in/fan-out pattern the
// coordinator relies on.
type Agent struct {
	Address string
	Probe   AgentProbe
}

func (a *Agent) matches(target string) bool { return target == a.Address }

func (a *Agent) CPUTemperature(_ context.Context, req *MetricRequest) (*MetricResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &MetricResponse{}, nil
	}
	v, err := a.Probe.CPUTemperature()
	if err != nil {
		return nil, err
	}
	return &MetricResponse{Value: v}, nil
}

func (a *Agent) MemoryPageFaults(_ context.Context, req *MetricRequest) (*MetricResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &MetricResponse{}, nil
	}
	v, err := a.Probe.MemoryPageFaults()
	if err != nil {
		return nil, err
	}
	return &MetricResponse{Value: v}, nil
}

func (a *Agent) AvailableMemoryMB(_ context.Context, req *MetricRequest) (*MetricResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &MetricResponse{}, nil
	}
	v, err := a.Probe.AvailableMemoryMB()
	if err != nil {
		return nil, err
	}
	return &MetricResponse{Value: v}, nil
}

func (a *Agent) NetworkBandwidthUtilization(_ context.Context, req *MetricRequest) (*MetricResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &MetricResponse{}, nil
	}
	v, err := a.Probe.NetworkBandwidthUtilization(req.Interface)
	if err != nil {
		return nil, err
	}
	return &MetricResponse{Value: v}, nil
}

func (a *Agent) DiskLatency(_ context.Context, req *MetricRequest) (*MetricResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &MetricResponse{}, nil
	}
	v, err := a.Probe.DiskLatency(req.Device)
	if err != nil {
		return nil, err
	}
	return &MetricResponse{Value: v}, nil
}

func (a *Agent) GPUMetrics(_ context.Context, req *GPUMetricsRequest) (*GPUMetricsResponse, error) {
	if !a.matches(req.TargetAddress) {
		return &GPUMetricsResponse{Values: map[string]float64{}}, nil
	}
	v, err := a.Probe.GPUMetrics(req.GPUIndex)
	if err != nil {
		return nil, err
	}
	return &GPUMetricsResponse{Values: v}, nil
}
