// Package workerclient provides the HTTP client for posting work envelopes
// to worker agents.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskmesh/master/internal/domain"
)

// Client posts WorkRequests to worker /work endpoints.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a worker client with a fixed per-call timeout. There are
// no retries; a timeout or non-2xx response is a hard failure for that call.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PostWork sends the envelope to the worker's /work endpoint and decodes the
// synchronous reply. Transport failures wrap domain.ErrWorkerUnavailable;
// non-2xx responses wrap domain.ErrDispatchFailed. A reply without a status
// field is treated as succeeded.
func (c *Client) PostWork(ctx context.Context, baseURL string, work *domain.WorkRequest) (*domain.WorkResponse, error) {
	body, err := json.Marshal(work)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal work request: %w", err)
	}

	url := strings.TrimSuffix(baseURL, "/") + "/work"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: worker returned status %d: %s", domain.ErrDispatchFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result domain.WorkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if result.Status == "" {
		result.Status = domain.StatusSucceeded
	}
	if result.Output == nil {
		result.Output = map[string]any{}
	}
	return &result, nil
}

// Health checks the worker's liveness endpoint.
func (c *Client) Health(ctx context.Context, baseURL string) error {
	url := strings.TrimSuffix(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", domain.ErrWorkerUnavailable, resp.StatusCode)
	}
	return nil
}
