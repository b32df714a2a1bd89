// Package azure implements the ProviderAdapter arm for Azure virtual
// machines via the resource-manager client.
package azure

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/provider"
)

// Client implements provider.Adapter over Azure's resource-manager compute
// client. Credentials are bootstrapped from the environment via
// DefaultAzureCredential (service principal env vars, managed identity, or
// the Azure CLI token cache).
type Client struct {
	vms           *armcompute.VirtualMachinesClient
	resourceGroup string
	location      string
}

// New constructs an Azure VM client for subscriptionID/resourceGroup.
func New(subscriptionID, resourceGroup, location string) (*Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure: default credential: %w", err)
	}
	vms, err := armcompute.NewVirtualMachinesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: new virtual machines client: %w", err)
	}
	return &Client{vms: vms, resourceGroup: resourceGroup, location: location}, nil
}

func (c *Client) Provider() fleet.Provider { return fleet.ProviderAzure }

// CreateInstance begins a VM creation and blocks for completion. The
// result's InstanceID is the ARM resource name (spec.WorkloadName), not the
// VM's internal VMID: BeginDelete takes the resource name, not the VMID, so
// echoing the name back is what makes DeleteInstance's instanceID argument
// valid later. The result's Address is left empty: ARM's VM response
// carries no IP, only a reference to the attached network interface, and
// reading that interface back is not yet wired here.
func (c *Client) CreateInstance(ctx context.Context, spec provider.Spec) (provider.CreateResult, error) {
	vmSize := armcompute.VirtualMachineSizeTypes(spec.InstanceType)
	poller, err := c.vms.BeginCreateOrUpdate(ctx, c.resourceGroup, spec.WorkloadName, armcompute.VirtualMachine{
		Location: &c.location,
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{VMSize: &vmSize},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{ID: &spec.ImageID},
			},
		},
	}, nil)
	if err != nil {
		return provider.CreateResult{}, classifyErr("azure.createInstance", err)
	}

	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return provider.CreateResult{}, classifyErr("azure.createInstance.poll", err)
	}

	return provider.CreateResult{InstanceID: spec.WorkloadName}, nil
}

// DeleteInstance begins VM deletion and blocks for completion; a missing VM
// is treated as success. instanceID is the ARM resource name, as returned
// by CreateInstance, since that is what BeginDelete requires.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	poller, err := c.vms.BeginDelete(ctx, c.resourceGroup, instanceID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classifyErr("azure.deleteInstance", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return classifyErr("azure.deleteInstance.poll", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func classifyErr(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode >= 500 {
			return ctlerr.Transient(op, err)
		}
		return ctlerr.Fatal(op, err)
	}
	return ctlerr.Transient(op, err)
}
