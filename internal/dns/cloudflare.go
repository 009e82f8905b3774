// Package dns registers deployment hostnames with Cloudflare.
package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// DevRecordID is returned by the development service instead of a real record id.
const DevRecordID = "devDnsRecord"

// Options configures a Cloudflare client.
type Options struct {
	BaseURL    string
	Token      string
	ZoneID     string
	HTTPClient *http.Client
	// Limit throttles outgoing calls. Cloudflare allows 1200 requests per five minutes.
	Limit rate.Limit
	Burst int
}

// Cloudflare creates and deletes proxied A records in one zone.
type Cloudflare struct {
	baseURL    string
	token      string
	zone       string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewCloudflare constructs a Cloudflare client.
func NewCloudflare(opts Options) (*Cloudflare, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("cloudflare token is required")
	}
	if strings.TrimSpace(opts.ZoneID) == "" {
		return nil, errors.New("cloudflare zone is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	limit := opts.Limit
	if limit == 0 {
		limit = rate.Limit(4)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 4
	}
	return &Cloudflare{
		baseURL:    base,
		token:      strings.TrimSpace(opts.Token),
		zone:       strings.TrimSpace(opts.ZoneID),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// APIError is returned when Cloudflare rejects a request.
type APIError struct {
	Status   int
	Messages []string
}

func (e APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("cloudflare: status %d", e.Status)
	}
	return fmt.Sprintf("cloudflare: status %d: %s", e.Status, strings.Join(e.Messages, "; "))
}

type recordRequest struct {
	Content string `json:"content"`
	Name    string `json:"name"`
	Proxied bool   `json:"proxied"`
	Type    string `json:"type"`
	TTL     int    `json:"ttl"`
	Comment string `json:"comment"`
}

type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

// AddRecord creates a proxied A record for host pointing at ip and returns its id.
func (c *Cloudflare) AddRecord(ctx context.Context, host, ip string, mode domain.Mode) (string, error) {
	body := recordRequest{
		Content: ip,
		Name:    host,
		Proxied: true,
		Type:    "A",
		TTL:     1,
		Comment: fmt.Sprintf("Voyager %s for %s", mode.Title(), host),
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "zones/"+url.PathEscape(c.zone)+"/dns_records", body, &resp); err != nil {
		return "", err
	}
	if resp.Result.ID == "" {
		return "", errors.New("cloudflare: record created without id")
	}
	return resp.Result.ID, nil
}

// DeleteRecord removes a record by id. A record that no longer exists is not an error.
func (c *Cloudflare) DeleteRecord(ctx context.Context, recordID string) error {
	if strings.TrimSpace(recordID) == "" {
		return errors.New("dns record id cannot be empty")
	}
	path := "zones/" + url.PathEscape(c.zone) + "/dns_records/" + url.PathEscape(recordID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Cloudflare) do(ctx context.Context, method, path string, body any, v *envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cloudflare rate limit: %w", err)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)
	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !env.Success) {
		apiErr := APIError{Status: resp.StatusCode}
		for _, e := range env.Errors {
			apiErr.Messages = append(apiErr.Messages, fmt.Sprintf("%d %s", e.Code, e.Message))
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if v != nil {
		*v = env
	}
	return nil
}

// Development skips DNS entirely and hands out a fixed record id.
type Development struct{}

// AddRecord implements the name service without contacting Cloudflare.
func (Development) AddRecord(context.Context, string, string, domain.Mode) (string, error) {
	return DevRecordID, nil
}

// DeleteRecord implements the name service without contacting Cloudflare.
func (Development) DeleteRecord(context.Context, string) error {
	return nil
}
