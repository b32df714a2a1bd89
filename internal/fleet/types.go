// Package fleet defines the core data model shared by every controller
// component: hosts, telemetry snapshots, scaling intents and thresholds.
package fleet

import "fmt"

// Provider enumerates the supported cloud providers.
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderPaperspace Provider = "paperspace"
	ProviderNebius     Provider = "nebius"
	ProviderAzure      Provider = "azure"
	ProviderGCP        Provider = "gcp"
)

// Host is a managed worker machine.
type Host struct {
	Address            string
	WorkloadName       string
	Provider           Provider
	ProviderInstanceID string
}

// Key returns the registry primary key for a host: its address.
func (h Host) Key() string { return h.Address }

// GPU metric names, as reported by the seven-valued gpuMetrics map.
const (
	GPUUsage        = "GpuUsage"
	GPUTemperature  = "GpuTemperature"
	GPUMemoryUsage  = "GpuMemoryUsage"
	GPUPowerUsage   = "GpuPowerUsage"
	GPUFanSpeed     = "GpuFanSpeed"
	GPUCoreClock    = "GpuCoreClock"
	GPUMemoryClock  = "GpuMemoryClock"
)

// TelemetrySnapshot is an immutable bundle of metrics captured for one host
// at one instant. A nil pointer field or a missing gpuMetrics key means the
// metric is unknown, which is distinct from a known zero value.
type TelemetrySnapshot struct {
	Address                      string
	CPUTemperature               *float64
	MemoryPageFaults             *float64
	AvailableMemoryMB            *float64
	NetworkBandwidthUtilization  *float64 // primary interface, MB/s
	DiskLatency                  *float64 // primary device, ms
	GPUMetrics                   map[string]float64
}

// HasMetric reports whether the named GPU metric is present.
func (s TelemetrySnapshot) HasMetric(name string) bool {
	_, ok := s.GPUMetrics[name]
	return ok
}

// IntentKind is the direction of a scaling intent.
type IntentKind int

const (
	IntentUp IntentKind = iota
	IntentDown
)

func (k IntentKind) String() string {
	switch k {
	case IntentUp:
		return "up"
	case IntentDown:
		return "down"
	default:
		return "unknown"
	}
}

// ScalingIntent is a pending scaling action for a host.
type ScalingIntent struct {
	Kind       IntentKind
	Host       Host
	Generation uint64
	Reason     string
	// Attempts counts prior dispatch attempts; NodeManager re-pushes a
	// transiently-failed intent to the front of its queue and increments
	// Attempts, dropping it once the bounded retry budget is exhausted.
	Attempts int
}

// NextWorkloadName computes the new name for a scale-up replacement
// workload: the old name with a monotonic generation suffix.
func (i ScalingIntent) NextWorkloadName() string {
	return fmt.Sprintf("%s_%d", i.Host.WorkloadName, i.Generation)
}

// Thresholds holds the ScalingPolicy's configured trigger points, all with
// documented defaults (see DefaultThresholds).
type Thresholds struct {
	CPUTemperatureUp      float64 `yaml:"cpuTemperatureUp"`      // °C, above triggers Up
	MemoryPageFaultsUp    float64 `yaml:"memoryPageFaultsUp"`    // count, above triggers Up
	NetworkBandwidthUpMBs float64 `yaml:"networkBandwidthUpMBs"` // MB/s, above triggers Up
	GPUUsageUp            float64 `yaml:"gpuUsageUp"`            // %, above triggers Up
	AvailableMemoryDownMB float64 `yaml:"availableMemoryDownMB"` // MB, below triggers Up
	DiskLatencyUpMs       float64 `yaml:"diskLatencyUpMs"`       // ms, above triggers Up

	CPUTemperatureDown      float64 `yaml:"cpuTemperatureDown"`      // °C, at-or-below required for Down
	GPUUsageDown            float64 `yaml:"gpuUsageDown"`            // %, at-or-below required for Down
	AvailableMemoryDownOkMB float64 `yaml:"availableMemoryDownOkMB"` // MB, at-or-above required for Down
	DiskLatencyDownMs       float64 `yaml:"diskLatencyDownMs"`       // ms, at-or-below required for Down
}

// DefaultThresholds returns the threshold table from the ScalingPolicy spec.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUTemperatureUp:      80.0,
		MemoryPageFaultsUp:    1000,
		NetworkBandwidthUpMBs: 1000,
		GPUUsageUp:            80.0,
		AvailableMemoryDownMB: 512,
		DiskLatencyUpMs:       10.0,

		CPUTemperatureDown:      40.0,
		GPUUsageDown:            20.0,
		AvailableMemoryDownOkMB: 4096,
		DiskLatencyDownMs:       2.0,
	}
}
