// Package policy implements the pure, stateless ScalingPolicy decision
// function described in the controller's scaling contract.
package policy

import "github.com/cuemby/fleetd/internal/fleet"

// Decision is the outcome of evaluating a TelemetrySnapshot.
type Decision int

const (
	None Decision = iota
	Up
	Down
)

func (d Decision) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "none"
	}
}

// Policy evaluates telemetry snapshots against a fixed set of thresholds.
// It holds no mutable state and is safe for concurrent use.
type Policy struct {
	thresholds fleet.Thresholds
}

// New constructs a Policy over the given thresholds.
func New(thresholds fleet.Thresholds) *Policy {
	return &Policy{thresholds: thresholds}
}

// Evaluate classifies a snapshot as Up, Down or None, plus the reason that
// produced the decision. Evaluation is pure: calling Evaluate twice with an
// identical snapshot always returns the identical decision and reason.
//
// Up rules are evaluated in the table order below and short-circuit on the
// first hit. Down requires every rule to hold in a single snapshot, and any
// unknown metric disqualifies Down (but never triggers Up).
func (p *Policy) Evaluate(s fleet.TelemetrySnapshot) (Decision, string) {
	t := p.thresholds

	if s.CPUTemperature != nil && *s.CPUTemperature > t.CPUTemperatureUp {
		return Up, "cpuTemperature"
	}
	if s.MemoryPageFaults != nil && *s.MemoryPageFaults > t.MemoryPageFaultsUp {
		return Up, "memoryPageFaults"
	}
	if s.NetworkBandwidthUtilization != nil && *s.NetworkBandwidthUtilization > t.NetworkBandwidthUpMBs {
		return Up, "networkBandwidthUtilization"
	}
	if gpu, ok := s.GPUMetrics[fleet.GPUUsage]; ok && gpu > t.GPUUsageUp {
		return Up, fleet.GPUUsage
	}
	if s.AvailableMemoryMB != nil && *s.AvailableMemoryMB < t.AvailableMemoryDownMB {
		return Up, "availableMemoryMB"
	}
	if s.DiskLatency != nil && *s.DiskLatency > t.DiskLatencyUpMs {
		return Up, "diskLatency"
	}

	if p.isDown(s) {
		return Down, "nominal"
	}

	return None, ""
}

func (p *Policy) isDown(s fleet.TelemetrySnapshot) bool {
	t := p.thresholds

	if s.CPUTemperature == nil || *s.CPUTemperature > t.CPUTemperatureDown {
		return false
	}
	gpu, ok := s.GPUMetrics[fleet.GPUUsage]
	if !ok || gpu > t.GPUUsageDown {
		return false
	}
	if s.AvailableMemoryMB == nil || *s.AvailableMemoryMB < t.AvailableMemoryDownOkMB {
		return false
	}
	if s.DiskLatency == nil || *s.DiskLatency > t.DiskLatencyDownMs {
		return false
	}
	return true
}
