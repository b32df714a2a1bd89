// Package aws implements the ProviderAdapter arm for Amazon EC2.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"
	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/provider"
)

// Client implements provider.Adapter over the native EC2 API. Credentials
// are bootstrapped from the environment via the SDK's default chain
// (environment variables, shared config/credentials files, or an instance
// role) — the core does not specify a credential format.
type Client struct {
	ec2 *ec2.Client
}

// New loads the default AWS config (region, credentials) from the
// environment and constructs an EC2 client.
func New(ctx context.Context) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws: load default config: %w", err)
	}
	return &Client{ec2: ec2.NewFromConfig(cfg)}, nil
}

func (c *Client) Provider() fleet.Provider { return fleet.ProviderAWS }

// CreateInstance launches one instance of spec.InstanceType and returns its
// instance id and private IPv4 address as reported in the RunInstances
// response. It does not wait for the instance to reach the running state;
// Address is empty if the response carries no private IP.
func (c *Client) CreateInstance(ctx context.Context, spec provider.Spec) (provider.CreateResult, error) {
	out, err := c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{{
				Key:   aws.String("Name"),
				Value: aws.String(spec.WorkloadName),
			}},
		}},
	})
	if err != nil {
		return provider.CreateResult{}, classifyErr("aws.createInstance", err)
	}
	if len(out.Instances) == 0 {
		return provider.CreateResult{}, ctlerr.Transient("aws.createInstance", fmt.Errorf("no instance returned"))
	}

	inst := out.Instances[0]
	result := provider.CreateResult{InstanceID: aws.ToString(inst.InstanceId)}
	if inst.PrivateIpAddress != nil {
		result.Address = aws.ToString(inst.PrivateIpAddress)
	}
	return result, nil
}

// DeleteInstance terminates instanceID. Terminating an id that no longer
// exists is treated as success, matching the idempotency contract.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classifyErr("aws.deleteInstance", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
}

func classifyErr(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return ctlerr.Transient(op, err)
		}
		return ctlerr.Fatal(op, err)
	}
	return ctlerr.Transient(op, err)
}
