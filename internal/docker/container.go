package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

// CreateContainer creates, without starting, a container named name from image,
// publishing binding.InternalPort/tcp on the host address in binding.
func (c *Client) CreateContainer(ctx context.Context, name, image string, binding domain.PortBinding) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(image) == "" {
		return "", fmt.Errorf("image cannot be empty")
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(int(binding.InternalPort)))
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}

	config := &container.Config{
		Image:        image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{
				HostIP:   binding.HostIP,
				HostPort: strconv.Itoa(int(binding.HostPort)),
			}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
		ExtraHosts:    []string{"host.docker.internal:host-gateway"},
	}

	resp, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	for _, warning := range resp.Warnings {
		c.log.Warn("container create warning", "container", name, "warning", warning)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if notFound(err) {
			return fmt.Errorf("container start: %w", ErrNotFound)
		}
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// StopContainer stops a container. Stopping a missing container is not an error.
func (c *Client) StopContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// RestartContainer restarts a container in place.
func (c *Client) RestartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		if notFound(err) {
			return fmt.Errorf("container restart: %w", ErrNotFound)
		}
		return fmt.Errorf("container restart: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container and its anonymous volumes if it exists.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("container id cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// IsRunning reports whether the container is currently running.
func (c *Client) IsRunning(ctx context.Context, id string) (bool, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		if notFound(err) {
			return false, fmt.Errorf("container inspect: %w", ErrNotFound)
		}
		return false, fmt.Errorf("container inspect: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return false, nil
	}
	return inspect.State.Running, nil
}

// ContainerLogs returns the container's stdout and stderr as lines, stdout first.
func (c *Client) ContainerLogs(ctx context.Context, id string) ([]string, error) {
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("container logs: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, fmt.Errorf("demultiplex logs: %w", err)
	}
	lines := splitLines(stdout.Bytes())
	return append(lines, splitLines(stderr.Bytes())...), nil
}

func splitLines(data []byte) []string {
	lines := make([]string, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
