// Package loadbalance implements the LoadBalancer: a scalar ranking of
// hosts by load, consumed by placement decisions inside scale-up.
package loadbalance

import (
	"sort"

	"github.com/cuemby/fleetd/internal/fleet"
)

// Ranked pairs a host address with its computed scalar load.
type Ranked struct {
	Address string
	Load    float64
}

// pageFaultScale rescales memoryPageFaults (typically in the thousands)
// onto a comparable magnitude to the other summed metrics.
const pageFaultScale = 0.01

// Rank computes a scalar load per host by summing cpuTemperature,
// memoryPageFaults (rescaled), networkBandwidthUtilization, and gpuUsage,
// then returns hosts sorted ascending by that load. Ties are broken by
// lexicographic address order. Missing metrics contribute zero to the sum.
func Rank(snapshots map[string]fleet.TelemetrySnapshot) []Ranked {
	ranked := make([]Ranked, 0, len(snapshots))
	for address, snap := range snapshots {
		ranked = append(ranked, Ranked{Address: address, Load: load(snap)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Load != ranked[j].Load {
			return ranked[i].Load < ranked[j].Load
		}
		return ranked[i].Address < ranked[j].Address
	})

	return ranked
}

func load(snap fleet.TelemetrySnapshot) float64 {
	var total float64
	if snap.CPUTemperature != nil {
		total += *snap.CPUTemperature
	}
	if snap.MemoryPageFaults != nil {
		total += *snap.MemoryPageFaults * pageFaultScale
	}
	if snap.NetworkBandwidthUtilization != nil {
		total += *snap.NetworkBandwidthUtilization
	}
	if gpu, ok := snap.GPUMetrics[fleet.GPUUsage]; ok {
		total += gpu
	}
	return total
}

// LeastLoaded returns the address of the lowest-load host, or "" if
// snapshots is empty.
func LeastLoaded(snapshots map[string]fleet.TelemetrySnapshot) string {
	ranked := Rank(snapshots)
	if len(ranked) == 0 {
		return ""
	}
	return ranked[0].Address
}
