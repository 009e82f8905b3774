// Package notify announces new deployments on a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

const username = "Voyager API"

// Discord posts an embed per successful deployment.
type Discord struct {
	webhook    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewDiscord returns a Discord notifier for webhook. A nil client uses a 10s timeout.
func NewDiscord(webhook string, httpClient *http.Client) (*Discord, error) {
	webhook = strings.TrimSpace(webhook)
	if webhook == "" {
		return nil, errors.New("discord webhook is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	// Discord allows roughly 30 webhook messages per minute.
	return &Discord{
		webhook:    webhook,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 5),
	}, nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []embedField `json:"fields"`
}

type message struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

func buildMessage(id, name, host string, mode domain.Mode) message {
	return message{
		Username: username,
		Embeds: []embed{{
			Title:       fmt.Sprintf("[New %s deployment | %s](https://%s)", mode.Title(), name, host),
			Description: fmt.Sprintf("A new %s deployment has been created.", strings.ToLower(mode.Title())),
			Fields: []embedField{
				{Name: "ID", Value: id, Inline: true},
				{Name: "Docker Container", Value: name, Inline: true},
			},
		}},
	}
}

// DeploymentCreated posts the announcement for deployment id.
func (d *Discord) DeploymentCreated(ctx context.Context, id, name, host string, mode domain.Mode) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord rate limit: %w", err)
	}
	payload, err := json.Marshal(buildMessage(id, name, host, mode))
	if err != nil {
		return fmt.Errorf("encode discord message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Noop discards notifications.
type Noop struct{}

// DeploymentCreated does nothing.
func (Noop) DeploymentCreated(context.Context, string, string, string, domain.Mode) error {
	return nil
}
