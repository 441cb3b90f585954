package ppeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
)

// Client talks to the equipment aggregation REST service. The monitor uses
// it to fetch the canonical class configuration at startup and to expose
// the collaborator's health; the detect/validate endpoints serve ad hoc
// checks outside the realtime stream.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

func NewClient(baseURL string, logger *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Detect runs one-off detection on a base64-encoded image.
func (c *Client) Detect(ctx context.Context, imageB64 string, confidence float64) (*dto.DetectResult, error) {
	var result dto.DetectResult
	err := c.post(ctx, "/detect", dto.DetectRequest{Image: imageB64, Confidence: confidence}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate returns the validation block plus a human-readable status.
func (c *Client) Validate(ctx context.Context, imageB64 string, confidence float64) (*dto.ValidateResult, error) {
	var result dto.ValidateResult
	err := c.post(ctx, "/validate", dto.DetectRequest{Image: imageB64, Confidence: confidence}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Config fetches the canonical class list and its required cardinality.
func (c *Client) Config(ctx context.Context) (*dto.ClassConfig, error) {
	var cfg dto.ClassConfig
	if err := c.get(ctx, "/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Health reports the collaborator's readiness and whether its upstream
// credentials are configured.
func (c *Client) Health(ctx context.Context) (*dto.ServiceHealth, error) {
	var health dto.ServiceHealth
	if err := c.get(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aggregation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aggregation service returned %d for %s", resp.StatusCode, req.URL.Path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
