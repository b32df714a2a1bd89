package policy

import (
	"testing"

	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func nominalSnapshot() fleet.TelemetrySnapshot {
	return fleet.TelemetrySnapshot{
		Address:                     "10.0.0.1",
		CPUTemperature:              f(50),
		MemoryPageFaults:            f(10),
		AvailableMemoryMB:           f(2048),
		NetworkBandwidthUtilization: f(10),
		DiskLatency:                 f(3),
		GPUMetrics:                  map[string]float64{fleet.GPUUsage: 30},
	}
}

func TestEvaluateUpRules(t *testing.T) {
	p := New(fleet.DefaultThresholds())

	tests := []struct {
		name     string
		mutate   func(s *fleet.TelemetrySnapshot)
		expected Decision
		reason   string
	}{
		{
			name:     "nominal stays none",
			mutate:   func(s *fleet.TelemetrySnapshot) {},
			expected: None,
		},
		{
			name:     "cpu temperature above threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.CPUTemperature = f(85) },
			expected: Up,
			reason:   "cpuTemperature",
		},
		{
			name:     "memory page faults above threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.MemoryPageFaults = f(1500) },
			expected: Up,
			reason:   "memoryPageFaults",
		},
		{
			name:     "network bandwidth above threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.NetworkBandwidthUtilization = f(1200) },
			expected: Up,
			reason:   "networkBandwidthUtilization",
		},
		{
			name:     "gpu usage above threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.GPUMetrics[fleet.GPUUsage] = 95 },
			expected: Up,
			reason:   fleet.GPUUsage,
		},
		{
			name:     "available memory below threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.AvailableMemoryMB = f(100) },
			expected: Up,
			reason:   "availableMemoryMB",
		},
		{
			name:     "disk latency above threshold",
			mutate:   func(s *fleet.TelemetrySnapshot) { s.DiskLatency = f(25) },
			expected: Up,
			reason:   "diskLatency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := nominalSnapshot()
			tt.mutate(&snap)
			decision, reason := p.Evaluate(snap)
			assert.Equal(t, tt.expected, decision)
			if tt.expected == Up {
				assert.Equal(t, tt.reason, reason)
			}
		})
	}
}

func TestEvaluateDownRequiresAllConditions(t *testing.T) {
	p := New(fleet.DefaultThresholds())

	snap := fleet.TelemetrySnapshot{
		CPUTemperature:    f(25),
		AvailableMemoryMB: f(8192),
		DiskLatency:       f(1.0),
		GPUMetrics:        map[string]float64{fleet.GPUUsage: 10},
	}

	decision, _ := p.Evaluate(snap)
	assert.Equal(t, Down, decision)

	// Any single condition failing disqualifies Down without producing Up.
	worse := snap
	worse.AvailableMemoryMB = f(2048)
	decision, _ = p.Evaluate(worse)
	assert.Equal(t, None, decision)
}

func TestEvaluateUnknownMetricsNeverTriggerUpAndAlwaysDisqualifyDown(t *testing.T) {
	p := New(fleet.DefaultThresholds())

	empty := fleet.TelemetrySnapshot{Address: "10.0.0.9"}
	decision, reason := p.Evaluate(empty)
	assert.Equal(t, None, decision)
	assert.Empty(t, reason)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	p := New(fleet.DefaultThresholds())
	snap := nominalSnapshot()
	snap.CPUTemperature = f(95)

	d1, r1 := p.Evaluate(snap)
	d2, r2 := p.Evaluate(snap)
	assert.Equal(t, d1, d2)
	assert.Equal(t, r1, r2)
}
