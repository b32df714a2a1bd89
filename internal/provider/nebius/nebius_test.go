package nebius

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInstanceReturnsAddressFromResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer nebius-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/instances", r.URL.Path)

		var req createInstanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "folder-1", req.FolderID)

		_ = json.NewEncoder(w).Encode(instanceResponse{ID: "n-42", PrivateIP: "10.9.9.9"})
	}))
	defer srv.Close()

	c := New("nebius-token", "folder-1")
	c.baseURL = srv.URL

	result, err := c.CreateInstance(context.Background(), provider.Spec{WorkloadName: "web_1"})
	require.NoError(t, err)
	assert.Equal(t, "n-42", result.InstanceID)
	assert.Equal(t, "10.9.9.9", result.Address)
}

func TestDeleteInstanceNotFoundIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("nebius-token", "folder-1")
	c.baseURL = srv.URL

	err := c.DeleteInstance(context.Background(), "missing-id")
	assert.NoError(t, err)
}

func TestDeleteInstanceServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("nebius-token", "folder-1")
	c.baseURL = srv.URL
	c.http.RetryMax = 0

	err := c.DeleteInstance(context.Background(), "some-id")
	require.Error(t, err)
	assert.True(t, ctlerr.Is(err, ctlerr.KindTransient))
}

func TestCreateInstanceRequestRejectedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("nebius-token", "folder-1")
	c.baseURL = srv.URL
	c.http.RetryMax = 0

	_, err := c.CreateInstance(context.Background(), provider.Spec{WorkloadName: "web_1"})
	require.Error(t, err)
	assert.True(t, ctlerr.Is(err, ctlerr.KindFatal))
}
