// Package gcp implements the ProviderAdapter arm for Google Compute Engine.
package gcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/provider"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
)

// Client implements provider.Adapter over the GCE instances API.
type Client struct {
	svc     *compute.Service
	project string
	zone    string
}

// New constructs a GCE client for the given project/zone using the
// environment's application-default credentials.
func New(ctx context.Context, project, zone string) (*Client, error) {
	svc, err := compute.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcp: new compute service: %w", err)
	}
	return &Client{svc: svc, project: project, zone: zone}, nil
}

func (c *Client) Provider() fleet.Provider { return fleet.ProviderGCP }

// CreateInstance inserts a new GCE instance and polls the zone operation
// until it completes, then reads back the instance's primary internal IP.
func (c *Client) CreateInstance(ctx context.Context, spec provider.Spec) (provider.CreateResult, error) {
	inst := &compute.Instance{
		Name:        spec.WorkloadName,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", c.zone, spec.InstanceType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: spec.ImageID,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{Network: "global/networks/default"}},
	}

	op, err := c.svc.Instances.Insert(c.project, c.zone, inst).Context(ctx).Do()
	if err != nil {
		return provider.CreateResult{}, classifyErr("gcp.createInstance", err)
	}
	if err := c.waitZoneOp(ctx, op.Name); err != nil {
		return provider.CreateResult{}, err
	}

	created, err := c.svc.Instances.Get(c.project, c.zone, spec.WorkloadName).Context(ctx).Do()
	if err != nil {
		return provider.CreateResult{}, classifyErr("gcp.createInstance.get", err)
	}

	// InstanceID is the instance name, not GCE's numeric internal Id: Delete
	// takes the name, and DeleteInstance receives this value back verbatim.
	result := provider.CreateResult{InstanceID: created.Name}
	for _, iface := range created.NetworkInterfaces {
		if iface.NetworkIP != "" {
			result.Address = iface.NetworkIP
			break
		}
	}
	return result, nil
}

// DeleteInstance deletes the named instance. instanceID here is the GCE
// instance name, since that is what the Delete call requires; a missing
// instance is treated as success.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	op, err := c.svc.Instances.Delete(c.project, c.zone, instanceID).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classifyErr("gcp.deleteInstance", err)
	}
	return c.waitZoneOp(ctx, op.Name)
}

func (c *Client) waitZoneOp(ctx context.Context, opName string) error {
	op, err := c.svc.ZoneOperations.Wait(c.project, c.zone, opName).Context(ctx).Do()
	if err != nil {
		return classifyErr("gcp.waitZoneOp", err)
	}
	if op.Error != nil && len(op.Error.Errors) > 0 {
		return ctlerr.Fatal("gcp.waitZoneOp", fmt.Errorf("%s: %s", op.Error.Errors[0].Code, op.Error.Errors[0].Message))
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

func classifyErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= 500 {
			return ctlerr.Transient(op, err)
		}
		return ctlerr.Fatal(op, err)
	}
	return ctlerr.Transient(op, err)
}
