package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8765"

// Client provides typed access to the Voyager API for interactive tools.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL. Requests carry
// apiKey in the X-API-Key header and are bounded only by their context.
func New(base, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status   int
	Message  string
	Problems []string
}

func (e APIError) Error() string {
	if len(e.Problems) > 0 {
		return fmt.Sprintf("api request failed (%d): %s", e.Status, strings.Join(e.Problems, "; "))
	}
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Deployment mirrors the API representation of a deployment.
type Deployment struct {
	ID            string    `json:"id"`
	ContainerID   string    `json:"containerId"`
	DNSRecordID   string    `json:"dnsRecordId"`
	ContainerName string    `json:"containerName"`
	ImageID       string    `json:"imageId"`
	InternalPort  uint16    `json:"internalPort"`
	HostPort      uint16    `json:"hostPort"`
	Mode          string    `json:"mode"`
	Host          string    `json:"host"`
	RepoURL       string    `json:"repoUrl"`
	Branch        string    `json:"branch"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateRequest describes a deployment to create. RepoURL may end in "@branch".
type CreateRequest struct {
	Mode      string
	RepoURL   string
	Subdomain string
}

// Created is returned by CreateDeployment.
type Created struct {
	ID   string `json:"id"`
	Host string `json:"host"`
}

type logs struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// CreateDeployment runs the full creation flow and waits for its result.
func (c *Client) CreateDeployment(ctx context.Context, req CreateRequest) (Created, error) {
	q := url.Values{}
	q.Set("mode", req.Mode)
	q.Set("repoUrl", req.RepoURL)
	if s := strings.TrimSpace(req.Subdomain); s != "" {
		q.Set("subdomain", s)
	}
	var out Created
	err := c.do(ctx, http.MethodPost, "/api/v1/deployments?"+q.Encode(), &out)
	return out, err
}

// ListDeployments lists deployments, optionally filtered by repository and branch.
func (c *Client) ListDeployments(ctx context.Context, repoURL, branch string) ([]Deployment, error) {
	q := url.Values{}
	if s := strings.TrimSpace(repoURL); s != "" {
		q.Set("repoUrl", s)
	}
	if s := strings.TrimSpace(branch); s != "" {
		q.Set("branch", s)
	}
	path := "/api/v1/deployments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Deployments, nil
}

// GetDeployment fetches one deployment.
func (c *Client) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	var out struct {
		Deployment Deployment `json:"deployment"`
	}
	if err := c.do(ctx, http.MethodGet, deploymentPath(id, ""), &out); err != nil {
		return Deployment{}, err
	}
	return out.Deployment, nil
}

// DeleteDeployment tears a deployment down.
func (c *Client) DeleteDeployment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, deploymentPath(id, ""), nil)
}

// DeploymentLogs returns the container output of a deployment.
func (c *Client) DeploymentLogs(ctx context.Context, id string) ([]string, error) {
	var out struct {
		DeploymentLogs []string `json:"deploymentLogs"`
	}
	if err := c.do(ctx, http.MethodGet, deploymentPath(id, "/logs"), &out); err != nil {
		return nil, err
	}
	return out.DeploymentLogs, nil
}

// RestartDeployment restarts the container of a deployment.
func (c *Client) RestartDeployment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, deploymentPath(id, "/restart"), nil)
}

func deploymentPath(id, suffix string) string {
	return "/api/v1/deployments/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Logs logs `json:"logs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = payload.Logs.Message
	apiErr.Problems = payload.Logs.Errors
	return apiErr
}
