package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
)

// buildOutputCallback is invoked with incremental build messages.
type buildOutputCallback func(string)

// BuildImage sends the tar archive at archivePath to the daemon as build context
// and returns the built image id.
func (c *Client) BuildImage(ctx context.Context, archivePath, tag string, labels map[string]string, extraHosts []string) (string, error) {
	if c.inner == nil {
		return "", fmt.Errorf("docker client not initialized")
	}
	if strings.TrimSpace(archivePath) == "" {
		return "", fmt.Errorf("build archive cannot be empty")
	}
	buildCtx, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Dockerfile:  "Dockerfile",
		Labels:      labels,
		ExtraHosts:  extraHosts,
		Remove:      true,
		ForceRemove: true,
	}
	if tag != "" {
		opts.Tags = []string{tag}
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return "", fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	id, err := decodeBuildStream(resp.Body, func(line string) {
		c.log.Debug("image build output", "tag", tag, "line", line)
	})
	if err != nil {
		return "", err
	}
	c.log.Info("image built", "tag", tag, "image_id", id)
	return id, nil
}

// RemoveImage deletes an image and its untagged parents. A missing image is not an error.
func (c *Client) RemoveImage(ctx context.Context, imageID string) error {
	if strings.TrimSpace(imageID) == "" {
		return fmt.Errorf("image id cannot be empty")
	}
	if _, err := c.inner.ImageRemove(ctx, imageID, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// decodeBuildStream reads the daemon's JSON message stream and returns the last
// image id reported in an aux message.
func decodeBuildStream(r io.Reader, onOutput buildOutputCallback) (string, error) {
	decoder := json.NewDecoder(r)
	var imageID string
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return "", fmt.Errorf("docker image build: %s", errMsg)
		}
		if id := msg.imageID(); id != "" {
			imageID = id
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	if imageID == "" {
		return "", ErrNoImageID
	}
	return imageID, nil
}

type imageBuildMessage struct {
	Stream      string                `json:"stream"`
	Status      string                `json:"status"`
	ID          string                `json:"id"`
	Progress    string                `json:"progress"`
	Error       string                `json:"error"`
	ErrorDetail imageBuildErrorDetail `json:"errorDetail"`
	Aux         map[string]any        `json:"aux"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if v := strings.TrimSpace(m.Error); v != "" {
		return v
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) imageID() string {
	if m.Aux == nil {
		return ""
	}
	id, _ := m.Aux["ID"].(string)
	return strings.TrimSpace(id)
}

func (m imageBuildMessage) render() string {
	if v := strings.TrimSpace(m.Stream); v != "" {
		return v
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if v := strings.TrimSpace(m.ID); v != "" {
			parts = append(parts, v)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		if v := strings.TrimSpace(m.Progress); v != "" {
			parts = append(parts, v)
		}
		return strings.Join(parts, " ")
	}
	if id := m.imageID(); id != "" {
		return "image id: " + id
	}
	return ""
}
