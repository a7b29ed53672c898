// Package backend is the HTTP surface of the code-generation service.
// It sends generation requests, consumes streamed data: frames, and
// exposes the health endpoint used by the connectivity probe.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/faults"
)

// GenerateRequest is one code-generation call
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	Context     string `json:"context,omitempty"`
	Language    string `json:"language,omitempty"`
	Verbosity   string `json:"verbosity,omitempty"`
	ModelType   string `json:"model_type,omitempty"`
	ProgramLang string `json:"programming_level,omitempty"`
}

// GenerateResponse is the non-streaming result
type GenerateResponse struct {
	Success       bool   `json:"success"`
	GeneratedCode string `json:"generated_code"`
	Explanation   string `json:"explanation,omitempty"`
	Error         string `json:"error_message,omitempty"`
}

// Client talks to the code-generation backend over HTTP(S). The token is
// opaque and forwarded as a bearer credential.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a backend client with the default timeout
func NewClient(baseURL, token string) *Client {
	return NewClientWithTimeout(baseURL, token, 90*time.Second)
}

// NewClientWithTimeout creates a backend client with a custom timeout
func NewClientWithTimeout(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate sends a non-streaming generation request
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readHTTPError(resp)
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &genResp, nil
}

// Health checks whether the backend is reachable and responsive
func (c *Client) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach backend at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &faults.HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readHTTPError maps a non-OK response to the shared failure taxonomy
func readHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &faults.HTTPError{StatusCode: resp.StatusCode}
	}

	var errorResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errorResp) == nil && errorResp.Error != "" {
		return &faults.HTTPError{StatusCode: resp.StatusCode, Body: errorResp.Error}
	}
	return &faults.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}
