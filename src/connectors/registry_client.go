package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	registryRetryAttempts = 3
	registryRetryWait     = 500 * time.Millisecond
)

// ModelSnapshot is the registry's view of one model, copied onto new
// exceptions at detection time.
type ModelSnapshot struct {
	ModelID uint   `json:"model_id"`
	Name    string `json:"name"`
	Region  string `json:"region"`
	Status  string `json:"status"`
}

// RegistryClient talks to the external model-registry collaborator. The
// registry owns the model inventory; the exception engine only reads it.
type RegistryClient struct {
	http *resty.Client
}

// NewRegistryClient builds a client from the package config.
func NewRegistryClient() *RegistryClient {
	config := GetConfig()
	return NewRegistryClientWithBaseURL(config.RegistryBaseURL, config.RegistryAPIKey,
		time.Duration(config.RegistryTimeout)*time.Second)
}

func NewRegistryClientWithBaseURL(baseURL, apiKey string, timeout time.Duration) *RegistryClient {
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(registryRetryAttempts - 1).
		SetRetryWaitTime(registryRetryWait)

	if apiKey != "" {
		httpClient.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &RegistryClient{http: httpClient}
}

// Snapshot fetches the current name, region and status of one model.
func (c *RegistryClient) Snapshot(ctx context.Context, modelID uint) (*ModelSnapshot, error) {
	var snap ModelSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&snap).
		Get(fmt.Sprintf("/api/models/%d", modelID))
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %d for model %d", resp.StatusCode(), modelID)
	}

	return &snap, nil
}

// ActiveModelIDs lists the ids of every model currently in active use,
// which is the population batch detection scans.
func (c *RegistryClient) ActiveModelIDs(ctx context.Context) ([]uint, error) {
	var payload struct {
		Models []ModelSnapshot `json:"models"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("status", "active").
		SetResult(&payload).
		Get("/api/models")
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry returned %d listing active models", resp.StatusCode())
	}

	ids := make([]uint, 0, len(payload.Models))
	for _, m := range payload.Models {
		ids = append(ids, m.ModelID)
	}

	logger.WithField("count", len(ids)).Debug("Fetched active models from registry")

	return ids, nil
}
