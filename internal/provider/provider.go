// Package provider defines the ProviderAdapter contract: a uniform
// create/delete interface implemented by one arm per supported cloud.
package provider

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/fleet"
)

// Spec describes the instance to create for a scale-up.
type Spec struct {
	WorkloadName string
	Region       string
	InstanceType string
	ImageID      string
}

// CreateResult is the result of a successful CreateInstance call. The new
// address is always returned here, never via a captured free variable, per
// the scale-up IP-discovery design note.
type CreateResult struct {
	InstanceID string
	Address    string
}

// DefaultTimeout is the per-call deadline applied to provider API calls
// ("provider.timeout", 60s).
const DefaultTimeout = 60 * time.Second

// Adapter is implemented once per cloud provider (AWS, Paperspace, Nebius,
// Azure, GCP). The core treats every arm uniformly through this interface.
type Adapter interface {
	Provider() fleet.Provider
	CreateInstance(ctx context.Context, spec Spec) (CreateResult, error)
	DeleteInstance(ctx context.Context, instanceID string) error
}

// Registry maps a fleet.Provider to its Adapter implementation.
type Registry map[fleet.Provider]Adapter

// Get returns the adapter for p, or (nil, false) if none is registered.
func (r Registry) Get(p fleet.Provider) (Adapter, bool) {
	a, ok := r[p]
	return a, ok
}
