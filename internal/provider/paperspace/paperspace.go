// Package paperspace implements the ProviderAdapter arm for Paperspace's
// HTTPS/JSON API with bearer-token authentication.
package paperspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/provider"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://api.paperspace.com/v1"

// Client implements provider.Adapter over Paperspace's machines API. The
// retryable HTTP client bakes in the "provider 5xx is transient" policy at
// the transport layer: 5xx and connection-reset responses are retried
// before ever reaching the caller as an error.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// New constructs a client using a bearer token bootstrapped from the
// environment (the core does not specify where the caller obtains it).
func New(token string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	return &Client{http: rc, baseURL: defaultBaseURL, token: token}
}

func (c *Client) Provider() fleet.Provider { return fleet.ProviderPaperspace }

type createMachineRequest struct {
	Name        string `json:"name"`
	MachineType string `json:"machineType"`
	TemplateID  string `json:"templateId"`
	Region      string `json:"region"`
}

type machineResponse struct {
	ID        string `json:"id"`
	PublicIP  string `json:"publicIp"`
	PrivateIP string `json:"privateIp"`
}

func (c *Client) CreateInstance(ctx context.Context, spec provider.Spec) (provider.CreateResult, error) {
	body, err := json.Marshal(createMachineRequest{
		Name:        spec.WorkloadName,
		MachineType: spec.InstanceType,
		TemplateID:  spec.ImageID,
		Region:      spec.Region,
	})
	if err != nil {
		return provider.CreateResult{}, ctlerr.Fatal("paperspace.createInstance", err)
	}

	var out machineResponse
	if err := c.doJSON(ctx, http.MethodPost, "/machines", body, &out); err != nil {
		return provider.CreateResult{}, err
	}

	address := out.PrivateIP
	if address == "" {
		address = out.PublicIP
	}
	return provider.CreateResult{InstanceID: out.ID, Address: address}, nil
}

func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/machines/"+instanceID, nil, nil)
	if err != nil && ctlerr.Is(err, ctlerr.KindNotFound) {
		return nil
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ctlerr.Fatal("paperspace.request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ctlerr.Transient("paperspace.do", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ctlerr.NotFound("paperspace.do", fmt.Errorf("not found: %s", path))
	case resp.StatusCode >= 500:
		return ctlerr.Transient("paperspace.do", fmt.Errorf("server error: %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return ctlerr.Fatal("paperspace.do", fmt.Errorf("request rejected: %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
