// Package llm provides the client for the text-generation gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the gateway's /generate endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gateway client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GenerateRequest is the gateway request body.
type GenerateRequest struct {
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Provider     string         `json:"provider,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GenerateResponse is the gateway response body.
type GenerateResponse struct {
	Provider    string         `json:"provider"`
	OutputText  string         `json:"output_text"`
	RawResponse map[string]any `json:"raw_response,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Generate posts the request to the gateway. Failures surface as gateway
// errors; there is no retry at this layer.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &result, nil
}

// GenerateText is a convenience wrapper returning only the output text.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Generate(ctx, &GenerateRequest{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	if err != nil {
		return "", err
	}
	return resp.OutputText, nil
}
