// Package nebius implements the ProviderAdapter arm for Nebius's
// HTTPS/JSON compute API with bearer-token authentication.
package nebius

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

const defaultBaseURL = "https://compute.api.nebius.cloud/compute/v1"

// Client implements provider.Adapter over Nebius's instances API.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
	folder  string
}

// New constructs a client using a bearer token and folder (project) id,
// both bootstrapped from the environment.
func New(token, folderID string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	return &Client{http: rc, baseURL: defaultBaseURL, token: token, folder: folderID}
}

func (c *Client) Provider() fleet.Provider { return fleet.ProviderNebius }

type createInstanceRequest struct {
	FolderID     string `json:"folderId"`
	Name         string `json:"name"`
	PlatformID   string `json:"platformId"`
	ResourcesSpec string `json:"resourcesSpec"`
	ImageID      string `json:"bootDiskImageId"`
}

type instanceResponse struct {
	ID        string `json:"id"`
	PrivateIP string `json:"privateIpAddress"`
}

func (c *Client) CreateInstance(ctx context.Context, spec provider.Spec) (provider.CreateResult, error) {
	body, err := json.Marshal(createInstanceRequest{
		FolderID:      c.folder,
		Name:          spec.WorkloadName,
		PlatformID:    spec.InstanceType,
		ResourcesSpec: spec.Region,
		ImageID:       spec.ImageID,
	})
	if err != nil {
		return provider.CreateResult{}, ctlerr.Fatal("nebius.createInstance", err)
	}

	var out instanceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/instances", body, &out); err != nil {
		return provider.CreateResult{}, err
	}
	return provider.CreateResult{InstanceID: out.ID, Address: out.PrivateIP}, nil
}

func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/instances/"+instanceID, nil, nil)
	if err != nil && ctlerr.Is(err, ctlerr.KindNotFound) {
		return nil
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	reader := bytes.NewReader(body)

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ctlerr.Fatal("nebius.request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ctlerr.Transient("nebius.do", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ctlerr.NotFound("nebius.do", fmt.Errorf("not found: %s", path))
	case resp.StatusCode >= 500:
		return ctlerr.Transient("nebius.do", fmt.Errorf("server error: %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return ctlerr.Fatal("nebius.do", fmt.Errorf("request rejected: %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
