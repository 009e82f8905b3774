package deploy

import (
	"context"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

// SourceControl fetches repository sources.
type SourceControl interface {
	Clone(ctx context.Context, repo, branch, dest string) error
}

// Workspace owns working directories and build tarballs on local disk.
type Workspace interface {
	NewDir(repo, branch string) (string, error)
	Archive(dir string) (string, error)
	ReadFile(tarball, name string) ([]byte, error)
	Remove(path string) error
}

// ImageBuilder builds and deletes images.
type ImageBuilder interface {
	BuildImage(ctx context.Context, archivePath, tag string, labels map[string]string, extraHosts []string) (string, error)
	RemoveImage(ctx context.Context, imageID string) error
}

// ContainerRuntime manages deployment containers.
type ContainerRuntime interface {
	CreateContainer(ctx context.Context, name, image string, binding domain.PortBinding) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	IsRunning(ctx context.Context, id string) (bool, error)
	ContainerLogs(ctx context.Context, id string) ([]string, error)
}

// NameService publishes hostnames.
type NameService interface {
	AddRecord(ctx context.Context, host, ip string, mode domain.Mode) (string, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// Notifier announces finished deployments.
type Notifier interface {
	DeploymentCreated(ctx context.Context, id, name, host string, mode domain.Mode) error
}

// EventPublisher fans saga progress out to subscribers of a host.
type EventPublisher interface {
	Broadcast(key string, payload []byte)
}
